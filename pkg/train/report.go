package train

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gopkg.in/yaml.v3"

	"github.com/gilchrisn/slim-clustering/pkg/analysis"
	"github.com/gilchrisn/slim-clustering/pkg/cluster"
	"github.com/gilchrisn/slim-clustering/pkg/parser"
	"github.com/gilchrisn/slim-clustering/pkg/validation"
)

var (
	trainStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	testStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
)

func printEpoch(w io.Writer, phase string, epoch int, m Metrics, regression bool) {
	if w == nil {
		return
	}
	var line string
	if regression {
		line = fmt.Sprintf("average %s of epoch %d: loss %.5f mae %.5f", phase, epoch, m.Loss, m.MAE)
	} else {
		line = fmt.Sprintf("average %s of epoch %d: loss %.5f acc %.5f auc %.5f", phase, epoch, m.Loss, m.Accuracy, m.AUC)
	}
	style := trainStyle
	if phase != "training" {
		style = testStyle
	}
	fmt.Fprintln(w, style.Render(line))
}

func (t *Trainer) newProgress(batches int, description string) *progressbar.ProgressBar {
	if !t.cfg.EnableProgress() || t.Progress == nil {
		return nil
	}
	return progressbar.NewOptions(batches,
		progressbar.OptionSetWriter(t.Progress),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("batch"),
		progressbar.OptionClearOnFinish(),
	)
}

func describeProgress(bar *progressbar.ProgressBar, loss float64, acc *accumulator, regression bool) {
	if bar == nil {
		return
	}
	if regression {
		bar.Describe(fmt.Sprintf("loss: %0.5f mae: %0.5f", loss, acc.absErrSum/float64(acc.samples)))
	} else {
		bar.Describe(fmt.Sprintf("loss: %0.5f acc: %0.5f", loss, float64(acc.correct)/float64(acc.samples)))
	}
	bar.Add(1)
}

func finishProgress(bar *progressbar.ProgressBar) {
	if bar != nil {
		bar.Finish()
	}
}

// writeOutputs writes the optional run artifacts and returns their paths
func (t *Trainer) writeOutputs(result *Result) ([]string, error) {
	if !t.cfg.ExtractFeatures() && !t.cfg.PlotLoss() && !t.cfg.WriteSummary() &&
		!t.cfg.SaveCenters() && !t.cfg.PlotCenters() {
		return nil, nil
	}
	dir := t.cfg.OutputDir()
	if err := validation.ValidateOutputDirectory(dir); err != nil {
		return nil, err
	}

	var written []string
	if t.cfg.ExtractFeatures() {
		for _, ph := range []phase{t.trainPhase, t.testPhase} {
			path := filepath.Join(dir, fmt.Sprintf("extracted_features_%s.txt", ph.name))
			if err := t.exportFeatures(path, ph); err != nil {
				return nil, errors.Wrapf(err, "export %s features", ph.name)
			}
			written = append(written, path)
		}
	}
	if t.cfg.PlotLoss() && len(result.Epochs) > 0 {
		path := filepath.Join(dir, "loss.png")
		if err := plotLoss(path, result.Epochs); err != nil {
			return nil, errors.Wrap(err, "plot loss")
		}
		written = append(written, path)
	}
	if t.cfg.SaveCenters() {
		path := filepath.Join(dir, "centers.bin")
		if err := t.saveCenters(path); err != nil {
			return nil, errors.Wrap(err, "save centers")
		}
		written = append(written, path)
	}
	if t.cfg.PlotCenters() {
		path := filepath.Join(dir, "centers.png")
		if err := t.plotCenters(path); err != nil {
			return nil, errors.Wrap(err, "plot centers")
		}
		written = append(written, path)
	}
	if t.cfg.WriteSummary() {
		path := filepath.Join(dir, "summary.yaml")
		if err := t.writeSummary(path, result); err != nil {
			return nil, errors.Wrap(err, "write summary")
		}
		written = append(written, path)
	}

	for _, path := range written {
		if info, err := os.Stat(path); err == nil {
			t.logger.Info().Str("file", path).Str("size", humanize.Bytes(uint64(info.Size()))).Msg("Wrote output")
		}
	}
	return written, nil
}

// graphFeatures returns one row per graph of a phase: label, mean embedding
// and bin11 divided by the node count, all under the current parameters.
func (t *Trainer) graphFeatures(ph phase) (*mat.Dense, error) {
	z, err := t.proj.Forward(ph.x)
	if err != nil {
		return nil, err
	}
	u, err := t.centers.Matrix()
	if err != nil {
		return nil, err
	}
	q, err := cluster.SoftAssign(z, u, t.cfg.DOF())
	if err != nil {
		return nil, err
	}

	_, d := z.Dims()
	_, c := q.Dims()
	out := mat.NewDense(ph.view.Len(), 1+d+c, nil)
	for k, g := range ph.view.Graphs {
		start, end, err := ph.view.Range(k)
		if err != nil {
			return nil, err
		}
		row := out.RawRowView(k)
		if t.head.Regression() {
			row[0] = g.Target
		} else {
			row[0] = float64(g.Label)
		}
		n := float64(end - start)
		for i := start; i < end; i++ {
			floats.Add(row[1:1+d], z.RawRowView(i))
			floats.Add(row[1+d:], q.RawRowView(i))
		}
		if n > 0 {
			floats.Scale(1/n, row[1:])
		}
	}
	return out, nil
}

func (t *Trainer) exportFeatures(path string, ph phase) error {
	features, err := t.graphFeatures(ph)
	if err != nil {
		return err
	}
	return parser.WriteRows(path, features, "%.4f")
}

func plotLoss(path string, epochs []EpochResult) error {
	p := plot.New()
	p.Title.Text = "Loss per epoch"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "loss"

	train := make(plotter.XYs, len(epochs))
	test := make(plotter.XYs, len(epochs))
	for i, e := range epochs {
		train[i].X, train[i].Y = float64(e.Epoch), e.Train.Loss
		test[i].X, test[i].Y = float64(e.Epoch), e.Test.Loss
	}

	trainLine, err := plotter.NewLine(train)
	if err != nil {
		return err
	}
	testLine, err := plotter.NewLine(test)
	if err != nil {
		return err
	}
	testLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

	p.Add(trainLine, testLine, plotter.NewGrid())
	p.Legend.Add("train", trainLine)
	p.Legend.Add("test", testLine)
	return p.Save(8*vg.Inch, 4*vg.Inch, path)
}

func (t *Trainer) saveCenters(path string) error {
	u, err := t.centers.Matrix()
	if err != nil {
		return err
	}
	return parser.SaveMatrix(path, u)
}

// plotCenters draws the MDS layout of the centers, each sized by the soft
// mass it receives from the training pool.
func (t *Trainer) plotCenters(path string) error {
	u, err := t.centers.Matrix()
	if err != nil {
		return err
	}
	layout, err := analysis.CenterLayout(u)
	if err != nil {
		return err
	}
	z, err := t.proj.Forward(t.trainPhase.x)
	if err != nil {
		return err
	}
	q, err := cluster.SoftAssign(z, u, t.cfg.DOF())
	if err != nil {
		return err
	}
	_, k := q.Dims()
	mass := make([]float64, k)
	for j := range mass {
		mass[j] = floats.Sum(mat.Col(nil, j, q))
	}
	return analysis.PlotLayout(path, layout, mass)
}

type runSummary struct {
	RunID        string                       `yaml:"run_id"`
	Written      string                       `yaml:"written"`
	Settings     map[string]interface{}       `yaml:"settings"`
	Connectivity analysis.DatasetConnectivity `yaml:"connectivity"`
	Result       *Result                      `yaml:"result"`
}

func (t *Trainer) writeSummary(path string, result *Result) error {
	data, err := yaml.Marshal(runSummary{
		RunID:        t.runID,
		Written:      time.Now().Format(time.RFC3339),
		Settings:     t.cfg.Viper().AllSettings(),
		Connectivity: analysis.Profile(t.data.AllGraphs()),
		Result:       result,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ReadSummary loads a summary written by a previous run
func ReadSummary(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read summary: %w", err)
	}
	var s runSummary
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	if s.Result == nil {
		return nil, errors.Errorf("%s holds no result", path)
	}
	return s.Result, nil
}
