package benchmarks

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"os"

	grob "github.com/MetalBlueberry/go-plotly/generated/v2.34.0/graph_objects"
	ptypes "github.com/MetalBlueberry/go-plotly/pkg/types"
	"github.com/pkg/errors"

	"github.com/gomlx/fusionbench/types/xslices"
	"github.com/gomlx/gopjrt/dtypes"
)

// plotlySrc is the CDN the generated report loads Plotly from.
const plotlySrc = "https://cdn.plot.ly/plotly-2.34.0.min.js"

// traceKey groups results into one line of the bandwidth plot.
type traceKey struct {
	Batch int
	Path  Path
}

// buildFigure creates one bandwidth-vs-hidden-size figure for the dtype, one line per
// (batch, path).
func (s *Suite) buildFigure(dtype dtypes.DType) *grob.Fig {
	fig := &grob.Fig{
		Layout: &grob.Layout{
			Title: &grob.LayoutTitle{
				Text: ptypes.S(fmt.Sprintf("LayerNorm backward, %s (run %s)", dtype, s.RunID)),
			},
			Xaxis: &grob.LayoutXaxis{
				Showgrid: ptypes.B(true),
				Type:     grob.LayoutXaxisTypeLog,
				Title:    &grob.LayoutXaxisTitle{Text: ptypes.S("hidden size")},
			},
			Yaxis: &grob.LayoutYaxis{
				Showgrid: ptypes.B(true),
				Title:    &grob.LayoutYaxisTitle{Text: ptypes.S("effective bandwidth (GB/s)")},
			},
			Legend: &grob.LayoutLegend{},
		},
	}

	type linePoints struct {
		hidden, bandwidth []float64
	}
	lines := make(map[traceKey]*linePoints)
	var order []traceKey
	for _, result := range s.Results {
		if result.DType != dtype {
			continue
		}
		key := traceKey{Batch: result.Size.Batch, Path: result.Path}
		line, found := lines[key]
		if !found {
			line = &linePoints{}
			lines[key] = line
			order = append(order, key)
		}
		line.hidden = append(line.hidden, float64(result.Size.Hidden))
		line.bandwidth = append(line.bandwidth, result.Bandwidth()/1e9)
	}
	for _, key := range order {
		line := lines[key]
		fig.Data = append(fig.Data, &grob.Scatter{
			Name: ptypes.S(fmt.Sprintf("batch=%d, %s", key.Batch, key.Path)),
			Line: &grob.ScatterLine{
				Shape: grob.ScatterLineShapeLinear,
			},
			Mode: "lines+markers",
			X:    ptypes.DataArray(line.hidden),
			Y:    ptypes.DataArray(line.bandwidth),
		})
	}
	return fig
}

// WriteHTMLReport renders the bandwidth plots (one figure per dtype with results) to a
// standalone HTML file.
func (s *Suite) WriteHTMLReport(fileName string) error {
	var figures [][]byte
	for _, dtype := range s.DTypes {
		fig := s.buildFigure(dtype)
		if len(fig.Data) == 0 {
			continue
		}
		figAsJSON, err := json.Marshal(fig)
		if err != nil {
			return errors.Wrapf(err, "failed to marshal plotly figure for dtype %s", dtype)
		}
		figures = append(figures, figAsJSON)
	}
	f, err := os.Create(fileName)
	if err != nil {
		return errors.Wrapf(err, "failed to create report file %q", fileName)
	}
	defer func() { _ = f.Close() }()
	return writePlotlyAsHTML(f, figures...)
}

var (
	singleFileHTML = `<!DOCTYPE html>
	<head>
		<meta charset="utf-8">
		<script src="{{ .CDN }}"></script>
	</head>
	<body style="background-color: black;">
{{- range $i, $f := .Figures }}
		<div id="plot{{ $i }}"></div>
		{{ if not (eq $i (lastIdx $.Figures)) }}
		<hr style="border-color: gray;">
		{{ end }}
{{- end }}
	<script>
{{- range $i, $f := .Figures }}
		data = JSON.parse(atob('{{ $f }}'))
		Plotly.newPlot('plot{{ $i }}', data);
{{- end }}
	</script>
	</body>
</html>`
	singleFileHTMLTmpl = template.Must(template.New("plotly").Funcs(template.FuncMap{
		"lastIdx": func(a []string) int { return len(a) - 1 },
	}).Parse(singleFileHTML))
)

// writePlotlyAsHTML renders the Plotly figures (given as JSON) to an HTML page that
// can be served or saved to a file.
func writePlotlyAsHTML(w io.Writer, figuresAsJSON ...[]byte) error {
	data := &struct {
		CDN     string
		Figures []string
	}{
		CDN:     plotlySrc,
		Figures: xslices.Map(figuresAsJSON, func(fig []byte) string { return base64.StdEncoding.EncodeToString(fig) }),
	}
	if err := singleFileHTMLTmpl.Execute(w, data); err != nil {
		return errors.Wrap(err, "failed to render plotly report")
	}
	return nil
}
