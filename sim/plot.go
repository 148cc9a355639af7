package sim

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/sukhreens/DataAssimilationBenchmarks/estimate"
)

// SavePlot writes the per-cycle RMSE curves of a result to path. The
// format follows the file extension (png, pdf, svg).
func SavePlot(res *Result, path string) error {
	if res == nil || res.Filt == nil {
		return fmt.Errorf("invalid result supplied")
	}

	p := plot.New()
	p.Title.Text = res.Name
	p.X.Label.Text = "cycle"
	p.Y.Label.Text = "RMSE"
	p.Legend.Top = true

	add := func(name string, s *estimate.Series, c color.RGBA) error {
		if s == nil || s.Len() == 0 {
			return nil
		}
		pts := make(plotter.XYs, s.Len())
		for i, v := range s.RMSE {
			pts[i].X = float64(i + 1)
			pts[i].Y = v
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = c
		p.Add(line)
		p.Legend.Add(name, line)
		return nil
	}

	if err := add("forecast", res.Fore, color.RGBA{R: 230, G: 120, B: 30, A: 255}); err != nil {
		return err
	}
	if err := add("filter", res.Filt, color.RGBA{B: 200, G: 90, A: 255}); err != nil {
		return err
	}
	if err := add("smoother", res.Post, color.RGBA{G: 150, R: 40, A: 255}); err != nil {
		return err
	}

	return p.Save(16*vg.Centimeter, 10*vg.Centimeter, path)
}
