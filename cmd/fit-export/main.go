// fit-export converts a stored run (as JSON) into a FIT activity file.
// Useful for eyeballing export output in Garmin Connect or fitfileviewer
// without going through the HTTP endpoint.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/stridecast/server/pkg/domain/file_generators"
	"github.com/stridecast/server/pkg/types"
)

func main() {
	inputFile := flag.String("input", "", "Path to input JSON file (Run)")
	outputFile := flag.String("output", "output.fit", "Path to output FIT file")
	flag.Parse()

	if *inputFile == "" {
		flag.Usage()
		os.Exit(1)
	}

	data, err := os.ReadFile(*inputFile)
	if err != nil {
		log.Fatalf("Failed to read input file: %v", err)
	}

	var run types.Run
	if err := json.Unmarshal(data, &run); err != nil {
		log.Fatalf("Failed to parse JSON: %v", err)
	}

	fitData, err := file_generators.GenerateFitFile(&run)
	if err != nil {
		log.Fatalf("Failed to generate FIT file: %v", err)
	}

	if err := os.WriteFile(*outputFile, fitData, 0o644); err != nil {
		log.Fatalf("Failed to write output file: %v", err)
	}

	fmt.Printf("Wrote %d bytes to %s\n", len(fitData), *outputFile)
}
