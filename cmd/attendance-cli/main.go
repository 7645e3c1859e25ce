package main

import "attendance-backend/cmd/attendance-cli/cmd"

func main() {
	cmd.Execute()
}
