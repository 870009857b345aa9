package main

import "github.com/fogmesh/fogmesh/cmd/fogcoord/cmd"

func main() {
	cmd.Execute()
}
