package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/crnn/pkg/crnn"
)

// rowKind selects the style of a row: stages are colored by what they do, so that the
// pooling steps stand out in the schedule.
type rowKind int

const (
	plainRow rowKind = iota
	poolingRow
	recurrentRow
	invalidRow
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	rowStyles   = map[rowKind]lipgloss.Style{
		plainRow:     cellStyle,
		poolingRow:   cellStyle.Faint(true),
		recurrentRow: cellStyle.Foreground(lipgloss.AdaptiveColor{Light: "4", Dark: "12"}),
		invalidRow:   cellStyle.Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"}),
	}
)

// kindTable is a lipgloss table whose rows are styled by their rowKind, and whose columns
// are aligned as given.
type kindTable struct {
	table      *lgtable.Table
	kinds      []rowKind
	alignments []lipgloss.Position
}

func newKindTable(alignments ...lipgloss.Position) *kindTable {
	kt := &kindTable{alignments: alignments}
	kt.table = lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("8"))).
		StyleFunc(kt.style)
	return kt
}

func (kt *kindTable) style(row, col int) lipgloss.Style {
	s := headerStyle
	if row >= 0 && row < len(kt.kinds) {
		s = rowStyles[kt.kinds[row]]
	}
	if col < len(kt.alignments) {
		s = s.Align(kt.alignments[col])
	}
	return s
}

func (kt *kindTable) row(kind rowKind, cells ...string) {
	kt.kinds = append(kt.kinds, kind)
	kt.table.Row(cells...)
}

func (kt *kindTable) String() string { return kt.table.Render() }

// stagesTable lists the stages of the feature extractor with the shape of their outputs, for
// images of the given width.
func stagesTable(model *crnn.Model, width int) string {
	cfg := model.Config()
	kt := newKindTable(lipgloss.Right, lipgloss.Left, lipgloss.Right)
	kt.table.Headers("Stage", "Operation", "Output [C, H, W]")
	height, channels := cfg.ImageHeight, cfg.NumChannels
	kt.row(plainRow, "input", "", fmt.Sprintf("[%d, %d, %d]", channels, height, width))
	for _, stage := range model.FeatureExtractor().Stages() {
		height, width = stage.OutputSize(height, width)
		channels = stage.OutputChannels(channels)
		kind := plainRow
		if strings.HasPrefix(stage.Name(), "pooling") {
			kind = poolingRow
		}
		if height <= 0 || width <= 0 {
			kind = invalidRow
		}
		kt.row(kind, stage.Name(), stage.String(), fmt.Sprintf("[%d, %d, %d]", channels, height, width))
		if kind == invalidRow {
			break
		}
	}
	kt.row(recurrentRow, "bilstm0", fmt.Sprintf("bidirectional LSTM(%d) -> dense(%d)", cfg.HiddenSize, cfg.HiddenSize), "")
	kt.row(recurrentRow, "bilstm1", fmt.Sprintf("bidirectional LSTM(%d) -> dense(%d)", cfg.HiddenSize, cfg.NumClasses), "")
	kt.row(plainRow, "output", "log-softmax over classes", "")
	return kt.String()
}

// summaryTable reports the model configuration and, if numParams > 0, its size.
func summaryTable(model *crnn.Model, width, numParams int) string {
	cfg := model.Config()
	activation := "relu"
	if cfg.LeakyRelu {
		activation = fmt.Sprintf("leaky_relu(%g)", crnn.LeakyReluAlpha)
	}
	seqLen := model.SequenceLength(width)
	seqLenKind := plainRow
	if seqLen <= 0 {
		seqLenKind = invalidRow
	}

	kt := newKindTable(lipgloss.Right, lipgloss.Left)
	kt.row(plainRow, "image height", strconv.Itoa(cfg.ImageHeight))
	kt.row(plainRow, "image width", strconv.Itoa(width))
	kt.row(plainRow, "channels", strconv.Itoa(cfg.NumChannels))
	kt.row(plainRow, "classes", strconv.Itoa(cfg.NumClasses))
	kt.row(recurrentRow, "hidden size", strconv.Itoa(cfg.HiddenSize))
	kt.row(plainRow, "activation", activation)
	kt.row(seqLenKind, "sequence length", strconv.Itoa(seqLen))
	if numParams > 0 {
		kt.row(plainRow, "# parameters", humanize.Comma(int64(numParams)))
	}
	return kt.String()
}
