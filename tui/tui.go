package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gdamore/tcell/v2"
	"github.com/jrwynneiii/rxdsp/config"
	"github.com/jrwynneiii/rxdsp/datalink"
	"github.com/navidys/tvxwidgets"
	"github.com/rivo/tview"
)

// Status is what the panel reads from the receiver.
type Status interface {
	Mode() config.Mode
	ModeConfig() config.ModeConfig
	DemodFreq() int64
	GetOutputRate() float64
	GetSMeterPeak() float64
	GetSMeterAve() float64
	Locked() bool
	Squelched() bool
}

var LogOut *tview.TextView

const helpText = "[lightskyblue]m/M[white] mode  [lightskyblue]<-/->[white] tune  " +
	"[lightskyblue]up/down[white] filter  [lightskyblue]u[white] FM de-emphasis  " +
	"[lightskyblue]p[white] PSK rate  [lightskyblue]q[white] quit"

// StartUI runs the status panel until the operator quits or ctx is done.
func StartUI(ctx context.Context, rx Status, ctl *Controller, mon *datalink.Monitor, tuiConf config.TuiConf) error {
	app := tview.NewApplication()

	LogOut = tview.NewTextView().
		SetDynamicColors(true).
		SetRegions(true).
		SetWordWrap(true)

	statusTable := tview.NewTable().SetContent(&StatusTableData{})
	groupTable := tview.NewTable().SetContent(&GroupTableData{})

	levelPlot := tvxwidgets.NewPlot()
	levelPlot.SetLineColor([]tcell.Color{tcell.ColorLightSkyBlue, tcell.ColorYellow})
	levelPlot.SetMarker(tvxwidgets.PlotMarkerBraille)
	levelPlot.SetBorder(true)
	levelPlot.SetTitle("Signal level (peak, average)")

	peakGauge := tvxwidgets.NewUtilModeGauge()
	peakGauge.SetLabel("S-meter peak:     ")
	peakGauge.SetLabelColor(tcell.ColorLightSkyBlue)
	peakGauge.SetWarnPercentage(90)
	peakGauge.SetCritPercentage(99)
	peakGauge.SetEmptyColor(tcell.ColorBlack)
	peakGauge.SetBorder(false)

	aveGauge := tvxwidgets.NewUtilModeGauge()
	aveGauge.SetLabel("S-meter average:  ")
	aveGauge.SetLabelColor(tcell.ColorLightSkyBlue)
	aveGauge.SetWarnPercentage(90)
	aveGauge.SetCritPercentage(99)
	aveGauge.SetEmptyColor(tcell.ColorBlack)
	aveGauge.SetBorder(false)

	qualityGauge := tvxwidgets.NewUtilModeGauge()
	qualityGauge.SetLabel("Symbol quality:   ")
	qualityGauge.SetLabelColor(tcell.ColorLightSkyBlue)
	qualityGauge.SetWarnPercentage(100)
	qualityGauge.SetCritPercentage(100)
	qualityGauge.SetEmptyColor(tcell.ColorBlack)
	qualityGauge.SetBorder(false)

	gaugeBox := tview.NewFlex()
	gaugeBox.SetDirection(tview.FlexRow)
	gaugeBox.AddItem(peakGauge, 0, 1, false)
	gaugeBox.AddItem(aveGauge, 0, 1, false)
	gaugeBox.AddItem(qualityGauge, 0, 1, false)
	gaugeBox.SetTitle("Signal Stats")
	gaugeBox.SetBorder(true)

	LogOut.SetChangedFunc(func() {
		LogOut.ScrollToEnd()
		app.Draw()
	})
	LogOut.SetBorder(true).SetTitle("Log Output")
	if tuiConf.EnableLogOutput {
		log.SetOutput(LogOut)
	}

	statusTable.SetSelectable(false, false).SetBorder(true).SetTitle("Receiver")
	groupTable.SetSelectable(false, false).SetBorder(true).SetTitle("Data Groups")
	help := tview.NewTextView().SetDynamicColors(true).SetText(helpText)

	leftCol := tview.NewFlex().SetDirection(tview.FlexRow)
	leftCol.AddItem(statusTable, 0, 2, false)
	leftCol.AddItem(groupTable, 0, 3, false)

	rightCol := tview.NewFlex().SetDirection(tview.FlexRow)
	rightCol.AddItem(gaugeBox, 0, 2, false)
	rightCol.AddItem(levelPlot, 0, 3, false)
	if tuiConf.EnableLogOutput {
		rightCol.AddItem(LogOut, 0, 2, false)
	}

	body := tview.NewFlex().SetDirection(tview.FlexColumn)
	body.AddItem(leftCol, 0, 2, false)
	body.AddItem(rightCol, 0, 5, false)

	page := tview.NewFlex().SetDirection(tview.FlexRow)
	page.AddItem(body, 0, 1, false)
	page.AddItem(help, 1, 0, false)

	report := func(err error) {
		if err != nil {
			log.Warnf("%v", err)
		}
	}
	app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		switch ev.Key() {
		case tcell.KeyLeft:
			report(ctl.Tune(-1))
		case tcell.KeyRight:
			report(ctl.Tune(1))
		case tcell.KeyUp:
			report(ctl.Widen(1))
		case tcell.KeyDown:
			report(ctl.Widen(-1))
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'm':
				report(ctl.StepMode(1))
			case 'M':
				report(ctl.StepMode(-1))
			case 'u':
				ctl.ToggleUSFm()
			case 'p':
				report(ctl.NextPskMode())
			case 'q':
				app.Stop()
			default:
				return ev
			}
		default:
			return ev
		}
		return nil
	})

	refresh := time.Duration(max(tuiConf.RefreshMs, 10)) * time.Millisecond
	history := int(10 * time.Second / refresh)
	peaks := make([]float64, 0, history)
	aves := make([]float64, 0, history)

	go func() {
		ticker := time.NewTicker(refresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				app.Stop()
				return
			case <-ticker.C:
			}

			stats := mon.Stats()
			conf := rx.ModeConfig()
			peak, ave := rx.GetSMeterPeak(), rx.GetSMeterAve()

			statsMtx.Lock()
			currentStatus = ReceiverStatus{
				Mode:       rx.Mode().String(),
				Digital:    rx.Mode().IsDigital(),
				Offset:     rx.DemodFreq(),
				OutputRate: rx.GetOutputRate(),
				LowCut:     conf.LowCut,
				HiCut:      conf.HiCut,
				Locked:     rx.Locked(),
				Squelched:  rx.Squelched(),
				Stereo:     stats.StereoLock,
				Symbols:    stats.Symbols,
			}
			statsMtx.Unlock()
			updateGroups(stats)

			peakGauge.SetValue(meterPercent(peak, tuiConf.MeterFloor, tuiConf.MeterCeiling))
			aveGauge.SetValue(meterPercent(ave, tuiConf.MeterFloor, tuiConf.MeterCeiling))
			qualityGauge.SetValue(float64(stats.SymbolQuality))

			if len(peaks) == history {
				peaks, aves = peaks[1:], aves[1:]
			}
			peaks = append(peaks, peak)
			aves = append(aves, ave)
			levelPlot.SetData([][]float64{peaks, aves})

			app.Draw()
		}
	}()

	if err := app.SetRoot(page, true).EnableMouse(true).Run(); err != nil {
		return err
	}
	return nil
}
