// Package registry links every interface type into the binary.
package registry

import (
	_ "github.com/Alia5/VIIPMI/device/bt"   // Register bt interface handler
	_ "github.com/Alia5/VIIPMI/device/kcs"  // Register kcs interface handler
	_ "github.com/Alia5/VIIPMI/device/ssif" // Register ssif interface handler
)
