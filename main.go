package main

import "github.com/xiaot623/gogo/autopilot/cmd"

func main() {
	cmd.Execute()
}
