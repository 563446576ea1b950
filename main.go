package main

import "github.com/dialsense/dialsense/cmd/dialsense"

func main() {
	dialsense.Execute()
}
