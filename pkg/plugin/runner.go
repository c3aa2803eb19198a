package plugin

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/wasmerio/wasmer-go/wasmer"
)

// Runner executes plugin WASM modules in a sandbox. Each call compiles
// and instantiates a fresh instance so plugins cannot retain state across
// notes.
type Runner struct{}

// NewRunner creates a runner.
func NewRunner() *Runner {
	return &Runner{}
}

// RenderNote calls the plugin's render_note export and copies the
// produced interleaved f32 frames into out. The guest ABI is:
//
//	alloc(size: i32) -> i32
//	render_note(freq: f32, amp: f32, duration_ms: i32, sample_rate: i32,
//	            channels: i32, params_ptr: i32, params_len: i32,
//	            out_ptr: i32, out_len: i32) -> i32
//
// params is a newline-separated key=value listing of numeric and string
// parameters. The returned sample count is never trusted: writes are
// clamped to len(out).
func (r *Runner) RenderNote(
	wasmBytes []byte,
	freq, amp float32,
	durationMs, sampleRate, channels int32,
	paramsNum map[string]float32,
	paramsStr map[string]string,
	out []float32,
) error {
	if len(wasmBytes) == 0 {
		return fmt.Errorf("plugin has no wasm module")
	}

	engine := wasmer.NewEngine()
	wasmStore := wasmer.NewStore(engine)

	module, err := wasmer.NewModule(wasmStore, wasmBytes)
	if err != nil {
		return fmt.Errorf("failed to compile plugin module: %w", err)
	}

	importObject := wasmer.NewImportObject()
	instance, err := wasmer.NewInstance(module, importObject)
	if err != nil {
		return fmt.Errorf("failed to instantiate plugin module: %w", err)
	}

	memory, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return fmt.Errorf("plugin exports no memory: %w", err)
	}
	alloc, err := instance.Exports.GetFunction("alloc")
	if err != nil {
		return fmt.Errorf("plugin exports no alloc: %w", err)
	}
	renderNote, err := instance.Exports.GetFunction("render_note")
	if err != nil {
		return fmt.Errorf("plugin exports no render_note: %w", err)
	}

	params := encodeParams(paramsNum, paramsStr)
	paramsPtr, err := guestAlloc(alloc, memory, len(params))
	if err != nil {
		return err
	}
	copy(memory.Data()[paramsPtr:], params)

	outBytes := len(out) * 4
	outPtr, err := guestAlloc(alloc, memory, outBytes)
	if err != nil {
		return err
	}

	result, err := renderNote(
		freq, amp, durationMs, sampleRate, channels,
		paramsPtr, int32(len(params)), outPtr, int32(len(out)),
	)
	if err != nil {
		return fmt.Errorf("render_note trapped: %w", err)
	}

	written := len(out)
	if n, ok := result.(int32); ok && int(n) >= 0 && int(n) < written {
		written = int(n)
	}

	// Re-fetch the data slice: guest allocation may have grown memory.
	data := memory.Data()
	for i := 0; i < written; i++ {
		off := int(outPtr) + i*4
		if off+4 > len(data) {
			break
		}
		bits := binary.LittleEndian.Uint32(data[off:])
		out[i] = math.Float32frombits(bits)
	}

	logrus.WithFields(logrus.Fields{
		"system_name": "plugin",
		"frames":      written,
	}).Debug("plugin render_note completed")

	return nil
}

// guestAlloc asks the guest for a buffer and validates the pointer lands
// inside its memory.
func guestAlloc(alloc wasmer.NativeFunction, memory *wasmer.Memory, size int) (int32, error) {
	if size == 0 {
		size = 1
	}
	raw, err := alloc(int32(size))
	if err != nil {
		return 0, fmt.Errorf("plugin alloc trapped: %w", err)
	}
	ptr, ok := raw.(int32)
	if !ok || ptr < 0 || int(ptr)+size > len(memory.Data()) {
		return 0, fmt.Errorf("plugin alloc returned invalid pointer")
	}
	return ptr, nil
}

// encodeParams flattens numeric and string parameters into deterministic
// newline-separated key=value lines (sorted so renders are reproducible).
func encodeParams(nums map[string]float32, strs map[string]string) []byte {
	lines := make([]string, 0, len(nums)+len(strs))
	for k, v := range nums {
		lines = append(lines, k+"="+strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	for k, v := range strs {
		lines = append(lines, k+"="+v)
	}
	sort.Strings(lines)
	return []byte(strings.Join(lines, "\n"))
}
