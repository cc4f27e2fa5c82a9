// Package monitoring serves the live state of a pager over HTTP.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/vmkernel/instrumentation/idgen"
	"github.com/sarchlab/vmkernel/mem/vm"
	"github.com/sarchlab/vmkernel/mem/vm/frame"
	"github.com/sarchlab/vmkernel/mem/vm/paging"
)

// Monitor turns a running pager into a server that external tools can
// inspect.
type Monitor struct {
	pager      *paging.Pager
	portNumber int
	ids        idgen.Generator

	profileDuration time.Duration

	componentsLock sync.Mutex
	componentNames []string
	components     map[string]any

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{
		ids:             idgen.NewParallel(),
		profileDuration: time.Second,
		components:      make(map[string]any),
	}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterPager sets the pager to be monitored. The pager, its frame table
// and its swap store also become inspectable components.
func (m *Monitor) RegisterPager(p *paging.Pager) {
	m.pager = p

	m.RegisterComponent(p.Name(), p)
	m.RegisterComponent(p.Frames().Name(), p.Frames())
	m.RegisterComponent(p.Swap().Name(), p.Swap())
}

// RegisterComponent makes c inspectable under name. Registering a name twice
// replaces the earlier component.
func (m *Monitor) RegisterComponent(name string, c any) {
	m.componentsLock.Lock()
	defer m.componentsLock.Unlock()

	if _, found := m.components[name]; !found {
		m.componentNames = append(m.componentNames, name)
	}

	m.components[name] = c
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        m.ids.Generate(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar from the list being served.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the handler that serves the monitoring API.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/stats", m.stats)
	r.HandleFunc("/api/frames", m.listFrames)
	r.HandleFunc("/api/swap", m.swapUsage)
	r.HandleFunc("/api/processes", m.listProcesses)
	r.HandleFunc("/api/process/{pid}", m.processDetails)
	r.HandleFunc("/api/list_components", m.listComponents)
	r.HandleFunc("/api/component/{name}", m.listComponentDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)

	return r
}

// StartServer starts the monitor as a web server and returns the URL it
// listens on.
func (m *Monitor) StartServer() string {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Monitoring paging with %s\n", url)

	r := m.Router()
	go func() {
		err := http.Serve(listener, r)
		dieOnErr(err)
	}()

	return url
}

func (m *Monitor) pagerOr503(w http.ResponseWriter) *paging.Pager {
	if m.pager == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, err := w.Write([]byte("No pager registered"))
		dieOnErr(err)
	}

	return m.pager
}

func (m *Monitor) stats(w http.ResponseWriter, _ *http.Request) {
	p := m.pagerOr503(w)
	if p == nil {
		return
	}

	writeJSON(w, p.Stats())
}

type framesRsp struct {
	NumFrames    int          `json:"num_frames"`
	NumFree      int          `json:"num_free"`
	NumResident  int          `json:"num_resident"`
	NumEvictions uint64       `json:"num_evictions"`
	Frames       []frame.Info `json:"frames"`
}

func (m *Monitor) listFrames(w http.ResponseWriter, _ *http.Request) {
	p := m.pagerOr503(w)
	if p == nil {
		return
	}

	t := p.Frames()
	writeJSON(w, framesRsp{
		NumFrames:    t.NumFrames(),
		NumFree:      t.NumFree(),
		NumResident:  t.NumResident(),
		NumEvictions: t.NumEvictions(),
		Frames:       t.Snapshot(),
	})
}

type swapRsp struct {
	Name     string `json:"name"`
	NumSlots int    `json:"num_slots"`
	NumUsed  int    `json:"num_used"`
}

func (m *Monitor) swapUsage(w http.ResponseWriter, _ *http.Request) {
	p := m.pagerOr503(w)
	if p == nil {
		return
	}

	s := p.Swap()
	writeJSON(w, swapRsp{
		Name:     s.Name(),
		NumSlots: s.NumSlots(),
		NumUsed:  s.NumUsed(),
	})
}

type processRsp struct {
	PID          vm.PID     `json:"pid"`
	StackPointer uint64     `json:"stack_pointer"`
	NumPages     int        `json:"num_pages"`
	Mappings     []vm.MapID `json:"mappings"`
	Pages        []pageRsp  `json:"pages,omitempty"`
}

type pageRsp struct {
	VAddr    uint64 `json:"vaddr"`
	Writable bool   `json:"writable"`
	Status   string `json:"status"`
	Source   string `json:"source"`
	Frame    int    `json:"frame"`
	SwapSlot int    `json:"swap_slot"`
}

func summarizeProcess(proc *paging.Process) processRsp {
	return processRsp{
		PID:          proc.PID(),
		StackPointer: proc.StackPointer(),
		NumPages:     proc.PageTable().Len(),
		Mappings:     proc.Mappings(),
	}
}

func (m *Monitor) listProcesses(w http.ResponseWriter, _ *http.Request) {
	p := m.pagerOr503(w)
	if p == nil {
		return
	}

	rsp := []processRsp{}
	for _, proc := range p.Processes() {
		rsp = append(rsp, summarizeProcess(proc))
	}

	writeJSON(w, rsp)
}

func (m *Monitor) processDetails(w http.ResponseWriter, r *http.Request) {
	p := m.pagerOr503(w)
	if p == nil {
		return
	}

	pid, err := strconv.ParseUint(mux.Vars(r)["pid"], 10, 32)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)
		return
	}

	proc, found := p.Process(vm.PID(pid))
	if !found {
		w.WriteHeader(http.StatusNotFound)
		_, err = w.Write([]byte("Process not found"))
		dieOnErr(err)
		return
	}

	rsp := summarizeProcess(proc)
	proc.PageTable().Range(func(page *vm.Page) bool {
		entry := pageRsp{
			VAddr:    page.VAddr,
			Writable: page.Writable,
			Status:   page.Status().String(),
			Source:   page.Source.Kind.String(),
			Frame:    -1,
			SwapSlot: vm.NoSwapSlot,
		}

		if h, ok := page.Frame(); ok {
			entry.Frame = int(h)
		}

		if slot, ok := page.SwapSlot(); ok {
			entry.SwapSlot = slot
		}

		rsp.Pages = append(rsp.Pages, entry)

		return true
	})

	writeJSON(w, rsp)
}

func (m *Monitor) listComponents(w http.ResponseWriter, _ *http.Request) {
	m.componentsLock.Lock()
	names := append([]string(nil), m.componentNames...)
	m.componentsLock.Unlock()

	sort.Strings(names)

	writeJSON(w, names)
}

func (m *Monitor) listComponentDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	component := m.findComponentOr404(w, name)
	if component == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(component)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

type fieldReq struct {
	CompName  string `json:"comp_name,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	jsonString := mux.Vars(r)["json"]
	req := fieldReq{}

	err := json.Unmarshal([]byte(jsonString), &req)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)
		return
	}

	component := m.findComponentOr404(w, req.CompName)
	if component == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(component)
	serializer.SetMaxDepth(1)

	err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)
		return
	}

	err = serializer.Serialize(w)
	dieOnErr(err)
}

func (m *Monitor) findComponentOr404(
	w http.ResponseWriter,
	name string,
) any {
	m.componentsLock.Lock()
	component := m.components[name]
	m.componentsLock.Unlock()

	if component == nil {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("Component not found"))
		dieOnErr(err)
	}

	return component
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]progressRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.snapshot())
	}
	m.progressBarsLock.Unlock()

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprintf(w, "Error: %s", err)
		return
	}

	time.Sleep(m.profileDuration)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(data)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
