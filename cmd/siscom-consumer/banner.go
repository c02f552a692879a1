package main

import "fmt"

const banner = `
##########################################################################################
   ____ ___ ____   ____ ___  __  __     ____   ___   ___ _____
  / ___|_ _/ ___| / ___/ _ \|  \/  |   | __ ) / _ \ / _ \_   _|
  \___ \| |\___ \| |  | | | | |\/| |   |  _ \| | | | | | || |
   ___) | | ___) | |__| |_| | |  | |   | |_) | |_| | |_| || |
  |____/___|____/ \____\___/|_|  |_|   |____/ \___/ \___/ |_|
##########################################################################################`

func printBanner() {
	fmt.Println(banner)
}
