// Command helix tracks the generations of a component and runs the
// improvement cycles that produce them.
package main

import "github.com/papapumpkin/helix/cmd"

func main() {
	cmd.Execute()
}
