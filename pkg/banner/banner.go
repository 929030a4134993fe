package banner

import (
	"fmt"
)

const banner = `
██╗  ██╗███████╗ █████╗ ██████╗ ████████╗██╗  ██╗
██║  ██║██╔════╝██╔══██╗██╔══██╗╚══██╔══╝██║  ██║
███████║█████╗  ███████║██████╔╝   ██║   ███████║
██╔══██║██╔══╝  ██╔══██║██╔══██╗   ██║   ██╔══██║
██║  ██║███████╗██║  ██║██║  ██║   ██║   ██║  ██║
╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ╚═╝  ╚═╝
`

// Print renders the startup banner with the effective runtime values.
func Print(apiURL, pushSource, cachePath, metricsAddr, sources, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("API:      %s\n", apiURL)
	fmt.Printf("Push:     %s\n", pushSource)
	if cachePath == "" {
		cachePath = "(in-memory)"
	}
	fmt.Printf("Cache:    %s\n", cachePath)
	fmt.Printf("Metrics:  http://%s/metrics\n", metricsAddr)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	if sources != "" {
		fmt.Printf("Config sources: %s\n", sources)
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Printf("GET http://%s/metrics  - Prometheus metrics\n", metricsAddr)
	fmt.Printf("GET http://%s/statusz  - operation tracker states (JSON)\n", metricsAddr)
	fmt.Printf("GET http://%s/healthz  - liveness\n", metricsAddr)
	fmt.Println()
}
