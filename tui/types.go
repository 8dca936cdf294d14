package tui

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/jrwynneiii/rxdsp/config"
	"github.com/jrwynneiii/rxdsp/datalink"
	"github.com/rivo/tview"
)

type GroupTableData struct {
	tview.TableContentReadOnly
}

type StatusTableData struct {
	tview.TableContentReadOnly
}

type ReceiverStatus struct {
	Mode       string
	Digital    bool
	Offset     int64
	OutputRate float64
	LowCut     int
	HiCut      int
	Locked     bool
	Squelched  bool
	Stereo     bool
	Symbols    int
}

type groupRow struct {
	Type  string
	Name  string
	Count int
}

var (
	statsMtx      sync.Mutex
	currentStatus ReceiverStatus
	groupRows     []groupRow
)

// updateGroups rebuilds the group table rows from a monitor snapshot,
// ordered by group number then version.
func updateGroups(s datalink.Stats) {
	rows := make([]groupRow, 0, len(s.GroupsPerType))
	for t, n := range s.GroupsPerType {
		rows = append(rows, groupRow{Type: t, Name: datalink.GroupTypes[t], Count: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		a, _ := strconv.Atoi(strings.TrimRight(rows[i].Type, "AB"))
		b, _ := strconv.Atoi(strings.TrimRight(rows[j].Type, "AB"))
		if a != b {
			return a < b
		}
		return rows[i].Type < rows[j].Type
	})
	statsMtx.Lock()
	groupRows = rows
	statsMtx.Unlock()
}

func (s *StatusTableData) GetRowCount() int {
	return 6
}

func (s *StatusTableData) GetColumnCount() int {
	return 2
}

func flag(ok bool) *tview.TableCell {
	color := tcell.ColorGreen
	if !ok {
		color = tcell.ColorRed
	}
	return tview.NewTableCell(fmt.Sprintf("%v", ok)).SetTextColor(color)
}

func (s *StatusTableData) GetCell(row, column int) *tview.TableCell {
	statsMtx.Lock()
	st := currentStatus
	statsMtx.Unlock()

	labels := []string{"Mode:", "Offset:", "Audio rate:", "Filter:", "Lock:", ""}
	if column == 0 {
		if row == 5 {
			if st.Digital {
				return tview.NewTableCell("Symbols:")
			}
			return tview.NewTableCell("Squelch:")
		}
		return tview.NewTableCell(labels[row])
	}

	switch row {
	case 0:
		return tview.NewTableCell(fmt.Sprintf("[lightskyblue]%s", strings.ToUpper(st.Mode)))
	case 1:
		return tview.NewTableCell(fmt.Sprintf("%+d Hz", st.Offset))
	case 2:
		return tview.NewTableCell(fmt.Sprintf("%.0f Hz", st.OutputRate))
	case 3:
		return tview.NewTableCell(fmt.Sprintf("%d .. %d Hz", st.LowCut, st.HiCut))
	case 4:
		if st.Mode == config.WFM.String() {
			return flag(st.Stereo)
		}
		return flag(st.Locked)
	case 5:
		if st.Digital {
			return tview.NewTableCell(fmt.Sprintf("%d", st.Symbols))
		}
		return flag(!st.Squelched)
	}
	return tview.NewTableCell("ERROR")
}

func (d *GroupTableData) GetRowCount() int {
	statsMtx.Lock()
	defer statsMtx.Unlock()
	return len(groupRows) + 1
}

func (d *GroupTableData) GetColumnCount() int {
	return 3
}

func (d *GroupTableData) GetCell(row, column int) *tview.TableCell {
	if row == 0 {
		switch column {
		case 0:
			return tview.NewTableCell("[lightskyblue]Group ")
		case 1:
			return tview.NewTableCell("[white]Name ")
		case 2:
			return tview.NewTableCell("[green]Received")
		}
		return tview.NewTableCell("ERROR")
	}

	statsMtx.Lock()
	defer statsMtx.Unlock()
	if row-1 >= len(groupRows) {
		return tview.NewTableCell("")
	}
	g := groupRows[row-1]
	switch column {
	case 0:
		return tview.NewTableCell(fmt.Sprintf("[lightskyblue]%s", g.Type))
	case 1:
		return tview.NewTableCell(fmt.Sprintf("[white]%s", g.Name))
	case 2:
		return tview.NewTableCell(fmt.Sprintf("[green]%d", g.Count))
	}
	return tview.NewTableCell("ERROR")
}
