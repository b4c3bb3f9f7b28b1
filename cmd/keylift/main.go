package main

import "southwinds.dev/keylift/cli/cmd"

func main() {
	cmd.Execute()
}
