// Command fingpt runs the FinGPT Telegram relay.
//
// Examples:
//
//	export TELEGRAM_TOKEN=... GOOGLE_API_KEY=... MODEL_ID=gemini-1.5-flash
//	fingpt serve
//
//	fingpt ask --message "Summarise this statement" statement.pdf
//	fingpt ask --provider dummy --message "generate pdf"
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
