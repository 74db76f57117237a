// Command harvester runs the listing scraper service.
//
// Usage:
//
//	harvester serve [--config path]
//	harvester scrape channels [--url listing] [--wait seconds]
//	harvester scrape niches --url https://example.notion.site/page
//
// Configuration comes from an optional file, a .env file in the working
// directory and HARVESTER_* environment variables, in increasing priority.
package main

import (
	"github.com/JakeFAU/listing-harvester/cmd"
)

func main() {
	cmd.Execute()
}
