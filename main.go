package main

import "klinelog/cmd"

func main() {
	cmd.Execute()
}
