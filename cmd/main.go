package main

import (
	"marketplace/internal/app"

	log "github.com/sirupsen/logrus"
)

func main() {
	app, err := app.NewApp()
	if err != nil {
		log.Fatal(err)
	}

	app.Run()
}
