package api

import (
	"os"
	"testing"

	"github.com/banshee-data/potree-clip/internal/monitoring"
)

// fakeExtractorEnv makes the test binary act as an extraction
// executable when a job re-executes it.
const fakeExtractorEnv = "POTREE_CLIP_API_FAKE_EXTRACTOR"

func TestMain(m *testing.M) {
	if os.Getenv(fakeExtractorEnv) == "1" {
		os.Exit(fakeExtractor(os.Args[1:]))
	}
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

// fakeExtractor writes a stub LAS file to the -o path.
func fakeExtractor(args []string) int {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == "-o" {
			if err := os.WriteFile(args[i+1], []byte("LASF"), 0644); err != nil {
				return 1
			}
			return 0
		}
	}
	return 2
}
