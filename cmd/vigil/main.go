package main

import "github.com/MeKo-Tech/vigil/cmd/vigil/cmd"

func main() {
	cmd.Execute()
}
