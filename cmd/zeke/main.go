package main

import (
	"os"

	"horse.fit/zeke/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
