package main

import (
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"

	om "open_manipulator"
)

func main() {
	module.ModularMain(
		resource.APIModel{API: arm.API, Model: om.ArmModel},
		resource.APIModel{API: gripper.API, Model: om.GripperModel},
	)
}
