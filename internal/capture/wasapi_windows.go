//go:build windows && (amd64 || arm64)

package capture

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	ole "github.com/go-ole/go-ole"
	"golang.org/x/sys/windows"

	"github.com/frosk-go/frosk/internal/audio"
)

// DefaultBackend returns the WASAPI process-loopback backend
func DefaultBackend() Backend {
	return WASAPIBackend{}
}

var (
	modMmdevapi                     = windows.NewLazySystemDLL("mmdevapi.dll")
	procActivateAudioInterfaceAsync = modMmdevapi.NewProc("ActivateAudioInterfaceAsync")
)

const virtualProcessLoopback = `VAD\Process_Loopback`

var (
	iidIAudioClient        = ole.NewGUID("{1CB9AD4C-DBFA-4c32-B178-C2F568A703B2}")
	iidIAudioCaptureClient = ole.NewGUID("{C8ADBD64-E71E-48a0-A4DE-185C395CD317}")
	iidCompletionHandler   = ole.NewGUID("{41D949AB-9862-444A-80F6-C261334DA5EB}")
	iidIAgileObject        = ole.NewGUID("{94EA2B94-E9CC-49E0-C0FF-EE64CA8F5B90}")
)

const (
	vtBlob = 65

	activationTypeProcessLoopback = 1
	loopbackModeIncludeTree       = 0

	shareModeShared = 0

	streamFlagsLoopback       = 0x00020000
	streamFlagsEventCallback  = 0x00040000
	streamFlagsAutoConvertPCM = 0x80000000

	waveFormatPCM       = 1
	waveFormatIEEEFloat = 3

	waitObject0 = 0x00000000
	waitTimeout = 0x00000102

	eNoInterface = 0x80004002
)

// vtable slots
const (
	slotRelease = 2

	slotGetActivateResult = 3

	slotClientInitialize     = 3
	slotClientStart          = 10
	slotClientStop           = 11
	slotClientSetEventHandle = 13
	slotClientGetService     = 14

	slotCaptureGetBuffer         = 3
	slotCaptureReleaseBuffer     = 4
	slotCaptureGetNextPacketSize = 5
)

type activationParams struct {
	ActivationType      uint32
	TargetProcessID     uint32
	ProcessLoopbackMode uint32
}

// PROPVARIANT holding a VT_BLOB
type propVariantBlob struct {
	vt        uint16
	reserved1 uint16
	reserved2 uint16
	reserved3 uint16
	cbSize    uint32
	pBlobData uintptr
}

type waveFormatEx struct {
	FormatTag      uint16
	Channels       uint16
	SamplesPerSec  uint32
	AvgBytesPerSec uint32
	BlockAlign     uint16
	BitsPerSample  uint16
	CbSize         uint16
}

func failed(hr uintptr) bool {
	return int32(uint32(hr)) < 0
}

func hresultError(op string, hr uintptr) error {
	return fmt.Errorf("%s: %w", op, ole.NewError(hr))
}

// comCall invokes vtable slot of the COM object obj
func comCall(obj uintptr, slot int, args ...uintptr) uintptr {
	vtbl := *(*uintptr)(unsafe.Pointer(obj))
	fn := *(*uintptr)(unsafe.Pointer(vtbl + uintptr(slot)*unsafe.Sizeof(uintptr(0))))
	r, _, _ := syscall.SyscallN(fn, append([]uintptr{obj}, args...)...)
	return r
}

func comRelease(obj uintptr) {
	if obj != 0 {
		comCall(obj, slotRelease)
	}
}

// completionHandler is a Go-implemented IActivateAudioInterfaceCompletionHandler.
// The vtable pointer must be the first field.
type completionHandler struct {
	vtbl       *completionHandlerVtbl
	refs       int32
	onComplete func()
}

type completionHandlerVtbl struct {
	QueryInterface    uintptr
	AddRef            uintptr
	Release           uintptr
	ActivateCompleted uintptr
}

var (
	handlerVtbl = &completionHandlerVtbl{
		QueryInterface:    syscall.NewCallback(handlerQueryInterface),
		AddRef:            syscall.NewCallback(handlerAddRef),
		Release:           syscall.NewCallback(handlerRelease),
		ActivateCompleted: syscall.NewCallback(handlerActivateCompleted),
	}

	// handlers referenced by COM must stay reachable from Go
	liveHandlers sync.Map
)

func newCompletionHandler(onComplete func()) *completionHandler {
	h := &completionHandler{vtbl: handlerVtbl, refs: 1, onComplete: onComplete}
	liveHandlers.Store(h, struct{}{})
	return h
}

func (h *completionHandler) addRef() uintptr {
	return uintptr(atomic.AddInt32(&h.refs, 1))
}

func (h *completionHandler) release() uintptr {
	n := atomic.AddInt32(&h.refs, -1)
	if n == 0 {
		liveHandlers.Delete(h)
	}
	return uintptr(n)
}

func handlerFrom(this uintptr) *completionHandler {
	return (*completionHandler)(unsafe.Pointer(this))
}

func handlerQueryInterface(this, riid, ppv uintptr) uintptr {
	iid := (*ole.GUID)(unsafe.Pointer(riid))
	out := (*uintptr)(unsafe.Pointer(ppv))
	if ole.IsEqualGUID(iid, ole.IID_IUnknown) || ole.IsEqualGUID(iid, iidCompletionHandler) || ole.IsEqualGUID(iid, iidIAgileObject) {
		*out = this
		handlerFrom(this).addRef()
		return 0
	}
	*out = 0
	return eNoInterface
}

func handlerAddRef(this uintptr) uintptr {
	return handlerFrom(this).addRef()
}

func handlerRelease(this uintptr) uintptr {
	return handlerFrom(this).release()
}

func handlerActivateCompleted(this, _ uintptr) uintptr {
	if fn := handlerFrom(this).onComplete; fn != nil {
		fn()
	}
	return 0
}

// WASAPIBackend activates the Windows virtual process-loopback device
type WASAPIBackend struct{}

// ActivateProcessLoopback starts ActivateAudioInterfaceAsync for pid in
// include-tree mode. The calling thread is joined to the MTA.
func (WASAPIBackend) ActivateProcessLoopback(pid uint32, onComplete func()) (Activation, error) {
	if err := procActivateAudioInterfaceAsync.Find(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}

	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil {
		var oleErr *ole.OleError
		// S_FALSE: already initialised on this thread
		if !errors.As(err, &oleErr) || oleErr.Code() != 1 {
			return nil, fmt.Errorf("CoInitializeEx: %w", err)
		}
	}

	path, err := windows.UTF16PtrFromString(virtualProcessLoopback)
	if err != nil {
		ole.CoUninitialize()
		return nil, err
	}

	a := &wasapiActivation{
		params: &activationParams{
			ActivationType:      activationTypeProcessLoopback,
			TargetProcessID:     pid,
			ProcessLoopbackMode: loopbackModeIncludeTree,
		},
		handler: newCompletionHandler(onComplete),
	}
	a.variant = &propVariantBlob{
		vt:        vtBlob,
		cbSize:    uint32(unsafe.Sizeof(*a.params)),
		pBlobData: uintptr(unsafe.Pointer(a.params)),
	}

	hr, _, _ := procActivateAudioInterfaceAsync.Call(
		uintptr(unsafe.Pointer(path)),
		uintptr(unsafe.Pointer(iidIAudioClient)),
		uintptr(unsafe.Pointer(a.variant)),
		uintptr(unsafe.Pointer(a.handler)),
		uintptr(unsafe.Pointer(&a.operation)),
	)
	if failed(hr) {
		a.handler.release()
		ole.CoUninitialize()
		return nil, hresultError("ActivateAudioInterfaceAsync", hr)
	}
	return a, nil
}

type wasapiActivation struct {
	params    *activationParams
	variant   *propVariantBlob
	handler   *completionHandler
	operation uintptr
}

// Cancel drops the async operation and the handler reference and leaves the
// apartment joined by ActivateProcessLoopback. A late completion callback
// still finds the handler alive through the operation's own reference.
func (a *wasapiActivation) Cancel() {
	comRelease(a.operation)
	a.operation = 0
	a.handler.release()
	ole.CoUninitialize()
}

// Result reads the activated IAudioClient. It must only be called once,
// after the completion callback.
func (a *wasapiActivation) Result() (Client, error) {
	defer a.handler.release()
	defer comRelease(a.operation)

	var activateHR int32
	var unknown uintptr
	hr := comCall(a.operation, slotGetActivateResult,
		uintptr(unsafe.Pointer(&activateHR)),
		uintptr(unsafe.Pointer(&unknown)),
	)
	if failed(hr) {
		ole.CoUninitialize()
		return nil, hresultError("GetActivateResult", hr)
	}
	if activateHR < 0 {
		ole.CoUninitialize()
		return nil, hresultError("activation", uintptr(uint32(activateHR)))
	}
	return &wasapiClient{audioClient: unknown}, nil
}

type wasapiClient struct {
	audioClient   uintptr
	captureClient uintptr
	event         windows.Handle
	blockAlign    int
	closed        bool
}

func (c *wasapiClient) Initialize(format Format, bufferDuration time.Duration) error {
	tag := uint16(waveFormatPCM)
	if format.Encoding == audio.EncodingFloat32 {
		tag = waveFormatIEEEFloat
	}
	c.blockAlign = format.BlockAlign()
	wfx := waveFormatEx{
		FormatTag:      tag,
		Channels:       uint16(format.Channels),
		SamplesPerSec:  uint32(format.SampleRate),
		AvgBytesPerSec: uint32(format.SampleRate * c.blockAlign),
		BlockAlign:     uint16(c.blockAlign),
		BitsPerSample:  uint16(format.BitsPerSample()),
	}

	// REFERENCE_TIME is in 100ns units
	hns := int64(bufferDuration / 100)
	hr := comCall(c.audioClient, slotClientInitialize,
		shareModeShared,
		streamFlagsLoopback|streamFlagsEventCallback|streamFlagsAutoConvertPCM,
		uintptr(hns),
		0,
		uintptr(unsafe.Pointer(&wfx)),
		0,
	)
	if failed(hr) {
		return hresultError("IAudioClient::Initialize", hr)
	}

	event, err := windows.CreateEvent(nil, 0, 0, nil)
	if err != nil {
		return fmt.Errorf("CreateEvent: %w", err)
	}
	c.event = event

	if hr := comCall(c.audioClient, slotClientSetEventHandle, uintptr(event)); failed(hr) {
		return hresultError("IAudioClient::SetEventHandle", hr)
	}

	if hr := comCall(c.audioClient, slotClientGetService,
		uintptr(unsafe.Pointer(iidIAudioCaptureClient)),
		uintptr(unsafe.Pointer(&c.captureClient)),
	); failed(hr) {
		return hresultError("IAudioClient::GetService", hr)
	}
	return nil
}

func (c *wasapiClient) Start() error {
	if hr := comCall(c.audioClient, slotClientStart); failed(hr) {
		return hresultError("IAudioClient::Start", hr)
	}
	return nil
}

func (c *wasapiClient) Stop() error {
	if hr := comCall(c.audioClient, slotClientStop); failed(hr) {
		return hresultError("IAudioClient::Stop", hr)
	}
	return nil
}

func (c *wasapiClient) WaitReady(timeout time.Duration) (bool, error) {
	ev, err := windows.WaitForSingleObject(c.event, uint32(timeout/time.Millisecond))
	switch ev {
	case waitObject0:
		return true, nil
	case waitTimeout:
		return false, nil
	default:
		return false, fmt.Errorf("WaitForSingleObject: %w", err)
	}
}

func (c *wasapiClient) NextPacketSize() (uint32, error) {
	var n uint32
	if hr := comCall(c.captureClient, slotCaptureGetNextPacketSize, uintptr(unsafe.Pointer(&n))); failed(hr) {
		return 0, hresultError("IAudioCaptureClient::GetNextPacketSize", hr)
	}
	return n, nil
}

func (c *wasapiClient) GetBuffer() (Packet, error) {
	var data uintptr
	var frames, flags uint32
	hr := comCall(c.captureClient, slotCaptureGetBuffer,
		uintptr(unsafe.Pointer(&data)),
		uintptr(unsafe.Pointer(&frames)),
		uintptr(unsafe.Pointer(&flags)),
		0,
		0,
	)
	if failed(hr) {
		return Packet{}, hresultError("IAudioCaptureClient::GetBuffer", hr)
	}

	pkt := Packet{Frames: frames, Flags: flags}
	if data != 0 && frames > 0 {
		pkt.Data = unsafe.Slice((*byte)(unsafe.Pointer(data)), int(frames)*c.blockAlign)
	}
	return pkt, nil
}

func (c *wasapiClient) ReleaseBuffer(frames uint32) error {
	if hr := comCall(c.captureClient, slotCaptureReleaseBuffer, uintptr(frames)); failed(hr) {
		return hresultError("IAudioCaptureClient::ReleaseBuffer", hr)
	}
	return nil
}

func (c *wasapiClient) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	comRelease(c.captureClient)
	comRelease(c.audioClient)
	c.captureClient, c.audioClient = 0, 0

	var err error
	if c.event != 0 {
		err = windows.CloseHandle(c.event)
		c.event = 0
	}
	ole.CoUninitialize()
	return err
}
