// Command snapm manages sets of coordinated snapshots across multiple
// block devices.
package main

import "github.com/deploymenttheory/snapm/cmd"

func main() {
	cmd.Execute()
}
