package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"seatwatch/internal/monitor"
)

// Export renders a ticket's bounded price history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.TicketID == "" {
		return errors.New("--ticket is required")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	return a.withComponents(ctx, func(comps *Components) error {
		status, err := comps.Monitor.GetMonitoringStatus(ctx, opts.TicketID)
		if err != nil {
			return err
		}
		if len(status.PriceHistory) == 0 {
			a.Logger.Info().Str("ticket_id", opts.TicketID).Msg("no price history to export")
			return nil
		}

		points := downsamplePoints(status.PriceHistory, opts.MaxPoints)
		a.Logger.Info().
			Int("total", len(status.PriceHistory)).
			Int("exported", len(points)).
			Msg("exporting price history")

		if opts.CSVPath != "" {
			if err := writePricesCSV(opts.CSVPath, opts.TicketID, points); err != nil {
				return err
			}
		}
		if opts.PNGPath != "" {
			if err := writePricesPNG(opts.PNGPath, opts.TicketID, points); err != nil {
				return err
			}
		}
		return nil
	})
}

func downsamplePoints(points []monitor.PricePoint, max int) []monitor.PricePoint {
	if max <= 0 || len(points) <= max {
		return points
	}

	result := make([]monitor.PricePoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writePricesCSV(path, ticketID string, points []monitor.PricePoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"timestamp", "ticket_id", "best_price"}); err != nil {
		return err
	}
	for _, point := range points {
		record := []string{
			point.Timestamp.UTC().Format(time.RFC3339),
			ticketID,
			point.Price.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return writer.Error()
}

func writePricesPNG(path, ticketID string, points []monitor.PricePoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	prices := make([]float64, len(points))
	for i, point := range points {
		x[i] = point.Timestamp
		prices[i] = point.Price.InexactFloat64()
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  fmt.Sprintf("Best price for ticket %s", ticketID),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Best price",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Best price",
				XValues: x,
				YValues: prices,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
