// Package commands implements the console's table-based command dispatcher.
// A line from a telnet session is split into a command name and an optional
// argument string; the dispatcher looks the name up in a fixed command table
// and hands the raw argument string to the handler, which does its own
// comma-separated parsing. Responses follow the firmware protocol: normal
// results are prefixed "OK,", recoverable configuration errors "ERR," and
// busy/not-ready conditions "WAR,".
package commands

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/dustin/go-humanize"

	"diagconsole/osci"
	"diagconsole/param"
	"diagconsole/recorder"
	"diagconsole/trigger"
)

// ByeResponse signals the session layer to close the connection.
const ByeResponse = "BYE"

// maxSuggestDistance caps how far an unknown command may be from a table
// entry before the "did you mean" hint is suppressed.
const maxSuggestDistance = 4

// captureLog is the read path of the capture archive; nil disables the
// capture_log command.
type captureLog interface {
	Recent(limit int) ([]recorder.Record, error)
}

// DeviceIdentity carries the identity strings reported by sw_ver, hw_ver and
// proj_info, normally taken from the device description plist.
type DeviceIdentity struct {
	Device    string
	Project   string
	SWVersion string
	HWVersion string
}

// Processor routes console commands to the parameter registry and the
// capture engine.
type Processor struct {
	registry *param.Registry
	engine   *osci.Engine
	nvm      *param.NVM
	archive  captureLog
	identity DeviceIdentity
	started  time.Time
	resetFn  func()

	table []command
}

type command struct {
	name    string
	help    string
	needArg bool // true: argument string required, false: bare command only
	handler func(p *Processor, attr string) string
}

// NewProcessor wires the dispatcher. nvm and archive may be nil; the related
// commands then report a warning. resetFn is invoked by the reset command
// (the simulator restarts its state; on a real device this would reboot).
func NewProcessor(reg *param.Registry, engine *osci.Engine, nvm *param.NVM, archive captureLog, identity DeviceIdentity, resetFn func()) *Processor {
	p := &Processor{
		registry: reg,
		engine:   engine,
		nvm:      nvm,
		archive:  archive,
		identity: identity,
		started:  time.Now(),
		resetFn:  resetFn,
	}
	p.table = []command{
		{"help", "Print all commands help", false, (*Processor).handleHelp},
		{"reset", "Reset device", false, (*Processor).handleReset},
		{"sw_ver", "Print device software version", false, (*Processor).handleSWVer},
		{"hw_ver", "Print device hardware version", false, (*Processor).handleHWVer},
		{"proj_info", "Print project informations", false, (*Processor).handleProjInfo},
		{"uptime", "Print console uptime", false, (*Processor).handleUptime},
		{"par_print", "Prints parameters", false, (*Processor).handleParPrint},
		{"par_set", "Set parameter [parID,value]", true, (*Processor).handleParSet},
		{"par_get", "Get parameter [parID]", true, (*Processor).handleParGet},
		{"par_def", "Set parameter to default [parID]", true, (*Processor).handleParDef},
		{"par_def_all", "Set all parameters to default", false, (*Processor).handleParDefAll},
		{"par_save", "Save parameters to NVM", false, (*Processor).handleParSave},
		{"par_save_clean", "Clean saved parameters space in NVM", false, (*Processor).handleParSaveClean},
		{"osci_start", "Start (trigger) oscilloscope", false, (*Processor).handleOsciStart},
		{"osci_stop", "Stop or cancel ongoing sampling", false, (*Processor).handleOsciStop},
		{"osci_data", "Get oscilloscope sampled data", false, (*Processor).handleOsciData},
		{"osci_channel", "Set oscilloscope channels [par1,par2,...,parN]", true, (*Processor).handleOsciChannel},
		{"osci_trigger", "Set oscilloscope trigger [type,par,threshold,pre-trigger]", true, (*Processor).handleOsciTrigger},
		{"osci_downsample", "Set oscilloscope downsample factor [downsample]", true, (*Processor).handleOsciDownsample},
		{"osci_state", "Get oscilloscope state", false, (*Processor).handleOsciState},
		{"osci_info", "Get information of oscilloscope configuration", false, (*Processor).handleOsciInfo},
		{"capture_log", "List recently archived captures [count]", true, (*Processor).handleCaptureLog},
		{"bye", "Disconnect", false, (*Processor).handleBye},
	}
	return p
}

// ProcessCommand dispatches a single input line and returns the response
// text (without trailing line terminator; multi-line responses use \r\n
// internally). A ByeResponse return asks the caller to close the session.
func (p *Processor) ProcessCommand(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}

	name, attr := splitCommand(line)
	for _, cmd := range p.table {
		if !strings.EqualFold(cmd.name, name) {
			continue
		}
		// Bare commands reject stray arguments, argument commands require
		// them; both mismatches answer like an unknown command, as the
		// firmware dispatcher did.
		if cmd.needArg != (attr != "") {
			return "ERR, Unknown command!"
		}
		return cmd.handler(p, attr)
	}
	return p.unknownCommand(name)
}

// splitCommand separates the command name from its raw argument string.
func splitCommand(line string) (name, attr string) {
	if i := strings.IndexByte(line, ' '); i >= 0 {
		return line[:i], strings.TrimSpace(line[i+1:])
	}
	return line, ""
}

// unknownCommand reports the error with a nearest-command hint when a table
// entry is plausibly what the caller meant.
func (p *Processor) unknownCommand(name string) string {
	lower := strings.ToLower(name)
	best := ""
	bestDist := maxSuggestDistance + 1
	for _, cmd := range p.table {
		if d := levenshtein.ComputeDistance(lower, cmd.name); d < bestDist {
			best, bestDist = cmd.name, d
		}
	}
	if best != "" && bestDist <= maxSuggestDistance {
		return fmt.Sprintf("ERR, Unknown command! Did you mean %q?", best)
	}
	return "ERR, Unknown command!"
}

func (p *Processor) handleHelp(string) string {
	var sb strings.Builder
	sb.WriteString("OK, List of device commands\r\n")
	sb.WriteString("--------------------------------------------------------")
	for _, cmd := range p.table {
		sb.WriteString("\r\n")
		fmt.Fprintf(&sb, "%-25s%s", cmd.name, cmd.help)
	}
	return sb.String()
}

func (p *Processor) handleReset(string) string {
	if p.resetFn != nil {
		p.resetFn()
	}
	return "OK, Reseting device..."
}

func (p *Processor) handleSWVer(string) string {
	return "OK, " + p.identity.SWVersion
}

func (p *Processor) handleHWVer(string) string {
	return "OK, " + p.identity.HWVersion
}

func (p *Processor) handleProjInfo(string) string {
	return fmt.Sprintf("OK, %s (%s)", p.identity.Project, p.identity.Device)
}

func (p *Processor) handleUptime(string) string {
	return fmt.Sprintf("OK, up since %s (%s)",
		p.started.UTC().Format(time.RFC3339), humanize.Time(p.started))
}

func (p *Processor) handleParPrint(string) string {
	var sb strings.Builder
	sb.WriteString("OK, ID,Name,Value,Def,Min,Max,Unit,Type,Access")
	for _, par := range p.registry.List() {
		access := "RW"
		if par.Access() == param.ReadOnly {
			access = "RO"
		}
		sb.WriteString("\r\n")
		fmt.Fprintf(&sb, "%d,%s,%s,%s,%s,%s,%s,%s,%s",
			par.ID(), par.Name(), par.Get(), par.Default(), par.Min(), par.Max(),
			par.Unit(), par.Type(), access)
	}
	return sb.String()
}

func (p *Processor) handleParGet(attr string) string {
	id, ok := parseParID(attr)
	if !ok {
		return "ERR, Wrong command!"
	}
	v, err := p.registry.Get(id)
	if err != nil {
		return "ERR, Wrong parameter ID!"
	}
	return "OK,PAR_GET=" + v.String()
}

func (p *Processor) handleParSet(attr string) string {
	tokens := strings.SplitN(attr, ",", 2)
	if len(tokens) != 2 {
		return "ERR, Wrong command!"
	}
	id, ok := parseParID(tokens[0])
	if !ok {
		return "ERR, Wrong command!"
	}
	v, err := p.registry.Set(id, tokens[1])
	switch {
	case err == nil:
		return "OK,PAR_SET=" + v.String()
	case errors.Is(err, param.ErrUnknownParam):
		return "ERR, Wrong parameter ID!"
	case errors.Is(err, param.ErrReadOnly):
		return "ERR, Parameter is read only!"
	case errors.Is(err, param.ErrOutOfRange):
		return "ERR, Value out of range!"
	default:
		return "ERR, Wrong command!"
	}
}

func (p *Processor) handleParDef(attr string) string {
	id, ok := parseParID(attr)
	if !ok {
		return "ERR, Wrong command!"
	}
	if err := p.registry.SetDefault(id); err != nil {
		return "ERR, Wrong parameter ID!"
	}
	return "OK, Parameter set to default"
}

func (p *Processor) handleParDefAll(string) string {
	p.registry.SetDefaultAll()
	return "OK, All parameters set to default"
}

func (p *Processor) handleParSave(string) string {
	if p.nvm == nil {
		return "WAR, NVM not available..."
	}
	count, err := p.nvm.Save(p.registry)
	if err != nil {
		log.Printf("par_save failed: %v", err)
		return "ERR, NVM write failed!"
	}
	return fmt.Sprintf("OK, %d parameters saved to NVM", count)
}

func (p *Processor) handleParSaveClean(string) string {
	if p.nvm == nil {
		return "WAR, NVM not available..."
	}
	if err := p.nvm.Clean(); err != nil {
		log.Printf("par_save_clean failed: %v", err)
		return "ERR, NVM clean failed!"
	}
	return "OK, Saved parameter space cleaned"
}

func (p *Processor) handleOsciStart(string) string {
	switch err := p.engine.Start(); {
	case err == nil:
		return "OK, Oscilloscope started"
	case errors.Is(err, osci.ErrBusy):
		return "WAR, Oscilloscope is already running..."
	case errors.Is(err, osci.ErrNoChannels):
		return "ERR, No oscilloscope channels configured!"
	default:
		return "ERR, " + err.Error()
	}
}

func (p *Processor) handleOsciStop(string) string {
	p.engine.Stop()
	return "OK, Oscilloscope stopped"
}

func (p *Processor) handleOsciData(string) string {
	var sb strings.Builder
	err := p.engine.ReadData(func(line string) error {
		if sb.Len() > 0 {
			sb.WriteString("\r\n")
		}
		sb.WriteString(line)
		return nil
	})
	if err != nil {
		return "WAR, Sampled data not available at the moment..."
	}
	return sb.String()
}

func (p *Processor) handleOsciChannel(attr string) string {
	tokens := splitList(attr)
	ids := make([]uint16, 0, len(tokens))
	for _, tok := range tokens {
		id, ok := parseParID(tok)
		if !ok {
			return "ERR, Wrong command!"
		}
		ids = append(ids, id)
	}
	switch err := p.engine.ConfigureChannels(ids); {
	case err == nil:
		return fmt.Sprintf("OK, %d channels configured", len(ids))
	case errors.Is(err, osci.ErrBusy):
		return "WAR, Oscilloscope cfg cannot be changed during sampling!"
	case errors.Is(err, osci.ErrBadChannel):
		return "ERR, Invalid channel list!"
	default:
		return "ERR, " + err.Error()
	}
}

func (p *Processor) handleOsciTrigger(attr string) string {
	tokens := splitList(attr)
	if len(tokens) != 4 {
		return "ERR, Wrong command!"
	}
	kind, ok := trigger.ParseKind(tokens[0])
	if !ok {
		return "ERR, Invalid trigger type!"
	}
	trigPar, ok := parseParID(tokens[1])
	if !ok {
		return "ERR, Wrong command!"
	}
	threshold, err := strconv.ParseFloat(tokens[2], 32)
	if err != nil {
		return "ERR, Wrong command!"
	}
	pretrigger, err := strconv.ParseFloat(tokens[3], 64)
	if err != nil {
		return "ERR, Wrong command!"
	}
	spec := osci.TriggerSpec{
		Kind:       kind,
		Channel:    trigPar,
		Threshold:  float32(threshold),
		Pretrigger: pretrigger,
	}
	switch err := p.engine.ConfigureTrigger(spec); {
	case err == nil:
		return "OK, Trigger configured"
	case errors.Is(err, osci.ErrBusy):
		return "WAR, Oscilloscope cfg cannot be changed during sampling!"
	case errors.Is(err, osci.ErrNoChannels):
		return "ERR, No oscilloscope channels configured!"
	case errors.Is(err, osci.ErrBadTrigger):
		return "ERR, Invalid trigger specification!"
	default:
		return "ERR, " + err.Error()
	}
}

func (p *Processor) handleOsciDownsample(attr string) string {
	n, err := strconv.Atoi(strings.TrimSpace(attr))
	if err != nil {
		return "ERR, Wrong command!"
	}
	switch err := p.engine.ConfigureDownsample(n); {
	case err == nil:
		return fmt.Sprintf("OK, Downsample factor set to %d", n)
	case errors.Is(err, osci.ErrBusy):
		return "WAR, Oscilloscope cfg cannot be changed during sampling!"
	case errors.Is(err, osci.ErrBadRange):
		return "ERR, Downsample factor out of valid range!"
	default:
		return "ERR, " + err.Error()
	}
}

func (p *Processor) handleOsciState(string) string {
	return fmt.Sprintf("OK,%d", p.engine.State())
}

// handleOsciInfo renders the configuration snapshot as a single line:
// trigger channel, trigger kind, threshold, pretrigger fraction, downsample
// factor, state, channel count, then each configured channel ID.
func (p *Processor) handleOsciInfo(string) string {
	info := p.engine.Info()
	var sb strings.Builder
	fmt.Fprintf(&sb, "OK,%d,%d,%g,%g,%d,%d,%d",
		info.TriggerChannel, info.TriggerKind, info.Threshold, info.Pretrigger,
		info.Downsample, info.State, len(info.Channels))
	for _, id := range info.Channels {
		fmt.Fprintf(&sb, ",%d", id)
	}
	return sb.String()
}

func (p *Processor) handleCaptureLog(attr string) string {
	if p.archive == nil {
		return "WAR, Capture archive not available..."
	}
	limit, err := strconv.Atoi(strings.TrimSpace(attr))
	if err != nil || limit < 1 || limit > 100 {
		return "ERR, Wrong command!"
	}
	records, err := p.archive.Recent(limit)
	if err != nil {
		log.Printf("capture_log query failed: %v", err)
		return "ERR, Capture archive query failed!"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "OK, %d captures", len(records))
	for _, rec := range records {
		sb.WriteString("\r\n")
		fmt.Fprintf(&sb, "%d,%s,%s,%d,%s,%016x",
			rec.ID, rec.Taken.UTC().Format(time.RFC3339), rec.Channels,
			rec.Depth, humanize.Bytes(uint64(rec.SizeBytes)), rec.Checksum)
	}
	return sb.String()
}

func (p *Processor) handleBye(string) string {
	return ByeResponse
}

// parseParID parses one external parameter ID token.
func parseParID(token string) (uint16, bool) {
	n, err := strconv.ParseUint(strings.TrimSpace(token), 10, 16)
	if err != nil {
		return 0, false
	}
	return uint16(n), true
}

// splitList splits a comma-separated argument string, trimming whitespace.
// An empty attr yields an empty list.
func splitList(attr string) []string {
	if strings.TrimSpace(attr) == "" {
		return nil
	}
	parts := strings.Split(attr, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
