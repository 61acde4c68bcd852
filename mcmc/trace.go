package mcmc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"bitbucket.org/Davydov/skyride/model"
)

// Trace writes tab-separated sampler output.
type Trace struct {
	w       *bufio.Writer
	columns []model.Column
	period  int
}

// NewTrace creates a new trace writing every period iterations.
func NewTrace(w io.Writer, period int, columns []model.Column) *Trace {
	if period < 1 {
		period = 1
	}
	return &Trace{w: bufio.NewWriter(w), columns: columns, period: period}
}

// ParameterColumns returns one column per parameter element.
func ParameterColumns(params model.Parameters) (cols []model.Column) {
	names := params.Names()
	k := 0
	for _, p := range params {
		for i := 0; i < p.Dimension(); i++ {
			p, i := p, i
			cols = append(cols, model.Column{Name: names[k], Value: func() float64 { return p.Value(i) }})
			k++
		}
	}
	return
}

// Header writes the header line.
func (t *Trace) Header() error {
	names := make([]string, 0, len(t.columns)+2)
	names = append(names, "iteration", "posterior")
	for _, c := range t.columns {
		names = append(names, c.Name)
	}
	_, err := fmt.Fprintln(t.w, strings.Join(names, "\t"))
	return err
}

// Line writes a line if iter is a multiple of the period.
func (t *Trace) Line(iter int, posterior float64) error {
	if iter%t.period != 0 {
		return nil
	}
	return t.write(iter, posterior)
}

// Last writes the final state unless Line has already written it and
// flushes the output.
func (t *Trace) Last(iter int, posterior float64) error {
	if iter%t.period != 0 {
		if err := t.write(iter, posterior); err != nil {
			return err
		}
	}
	return t.Flush()
}

func (t *Trace) write(iter int, posterior float64) error {
	fields := make([]string, 0, len(t.columns)+2)
	fields = append(fields, strconv.Itoa(iter), strconv.FormatFloat(posterior, 'g', -1, 64))
	for _, c := range t.columns {
		fields = append(fields, strconv.FormatFloat(c.Value(), 'g', -1, 64))
	}
	_, err := fmt.Fprintln(t.w, strings.Join(fields, "\t"))
	return err
}

// Flush flushes the output.
func (t *Trace) Flush() error {
	return t.w.Flush()
}

// TraceData is a trace read back from a file.
type TraceData struct {
	Names   []string
	Columns [][]float64
}

// Column returns the values of a named column or nil.
func (td *TraceData) Column(name string) []float64 {
	for i, n := range td.Names {
		if n == name {
			return td.Columns[i]
		}
	}
	return nil
}

// Burnin drops the first fraction of samples.
func (td *TraceData) Burnin(fraction float64) *TraceData {
	res := &TraceData{Names: td.Names, Columns: make([][]float64, len(td.Columns))}
	for i, c := range td.Columns {
		res.Columns[i] = c[int(fraction*float64(len(c))):]
	}
	return res
}

// ReadTrace reads a trace written by Trace.
func ReadTrace(rd io.Reader) (*TraceData, error) {
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	td := &TraceData{}
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Split(strings.TrimRight(scanner.Text(), "\r"), "\t")
		if td.Names == nil {
			td.Names = fields
			td.Columns = make([][]float64, len(fields))
			continue
		}
		if len(fields) == 1 && fields[0] == "" {
			continue
		}
		if len(fields) != len(td.Names) {
			return nil, fmt.Errorf("line %d: %d fields, expected %d", line, len(fields), len(td.Names))
		}
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			td.Columns[i] = append(td.Columns[i], v)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if td.Names == nil {
		return nil, errors.New("empty trace")
	}
	return td, nil
}
