// fusionbench validates and benchmarks the fused layer normalization backward kernel.
//
// It builds the backward fusion over a grid of [batch, hidden] sizes and dtypes,
// checks each case against a float64 host reference, then times the compiled fusion
// (on staged device buffers) and full traced calls, reporting the effective memory
// bandwidth per case.
//
// Examples:
//
//	fusionbench                          # default grid on the default backend
//	fusionbench -backend=xla:cuda        # fused execution through the XLA CUDA plugin
//	fusionbench -backend=go -sizes=quick # eager op-by-op baseline, small grid
//	fusionbench -report=bench.html       # also write a Plotly bandwidth report
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gomlx/fusionbench/backends"
	"github.com/gomlx/fusionbench/benchmarks"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/fusionbench/backends/simplego"
	_ "github.com/gomlx/fusionbench/backends/xla"
)

var (
	flagBackend = flag.String("backend", "",
		fmt.Sprintf("Backend to benchmark, as \"name\" or \"name:config\" -- e.g. \"go\", \"xla:cpu\" or \"xla:cuda\". "+
			"It defaults to the %s environment variable, or to the first registered backend.", backends.FUSIONBENCH_BACKEND))
	flagSizes = flag.String("sizes", "default",
		"Grid of [batch, hidden] sizes: \"default\", \"quick\", or a comma-separated list of batchxhidden pairs, e.g. \"512x1024,16x768\".")
	flagDTypes = flag.String("dtypes", "",
		"Comma-separated list of dtypes to run, e.g. \"float32,float16,bfloat16\". Defaults to all of them.")
	flagWarmup     = flag.Int("warmup", benchmarks.DefaultWarmup, "Untimed warmup iterations per case.")
	flagIterations = flag.Int("iterations", benchmarks.DefaultIterations, "Timed iterations per case.")

	flagSkipValidation = flag.Bool("skip_validation", false, "Skip the comparison against the float64 reference.")
	flagSkipBenchmark  = flag.Bool("skip_benchmark", false, "Only validate, don't time anything.")

	flagReport = flag.String("report", "", "If set, write a standalone HTML report with bandwidth plots to this file.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	var backend backends.Backend
	if *flagBackend != "" {
		backend = backends.NewWithConfig(*flagBackend)
	} else {
		backend = backends.New()
	}
	defer backend.Finalize()
	fmt.Printf("Backend: %s\n", backend.Description())

	suite := benchmarks.NewSuite(backend)
	suite.Sizes = parseSizes(*flagSizes)
	if *flagDTypes != "" {
		suite.DTypes = parseDTypes(*flagDTypes)
	}
	suite.Warmup = *flagWarmup
	suite.Iterations = *flagIterations
	suite.DisableValidation = *flagSkipValidation
	suite.DisableBenchmark = *flagSkipBenchmark

	must.M(suite.Run())
	if suite.DisableBenchmark {
		fmt.Println("All cases validated against the float64 reference.")
		return
	}
	suite.WriteTable(os.Stdout)
	if *flagReport != "" {
		must.M(suite.WriteHTMLReport(*flagReport))
		fmt.Printf("Report written to %s\n", *flagReport)
	}
}

func parseSizes(spec string) []benchmarks.Size {
	switch spec {
	case "", "default":
		return benchmarks.GenerateSizes()
	case "quick":
		return benchmarks.QuickSizes()
	}
	var sizes []benchmarks.Size
	for _, part := range strings.Split(spec, ",") {
		batchStr, hiddenStr, found := strings.Cut(strings.TrimSpace(part), "x")
		if !found {
			klog.Exitf("Invalid size %q in -sizes: want batchxhidden, e.g. 512x1024", part)
		}
		batch := must.M1(strconv.Atoi(batchStr))
		hidden := must.M1(strconv.Atoi(hiddenStr))
		sizes = append(sizes, benchmarks.Size{Batch: batch, Hidden: hidden})
	}
	return sizes
}

func parseDTypes(spec string) []dtypes.DType {
	var result []dtypes.DType
	for _, part := range strings.Split(spec, ",") {
		dtype, err := dtypes.DTypeString(strings.TrimSpace(part))
		if err != nil {
			klog.Exitf("Invalid dtype %q in -dtypes: %v", part, err)
		}
		result = append(result, dtype)
	}
	return result
}
