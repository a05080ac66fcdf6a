package main

import "github.com/namvu9/seedbox/seedbox/cmd"

func main() {
	cmd.Execute()
}
