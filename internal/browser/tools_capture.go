package browser

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	. "github.com/roelfdiedericks/browserd/internal/logging"
)

// opScreenshot captures the viewport, the full page, or a single element
// and saves the image through the media store.
func (p *Plane) opScreenshot(ctx context.Context, inv *Invocation) (Result, error) {
	if p.media == nil {
		return nil, fmt.Errorf("media store not configured")
	}

	fullPage := inv.argBool("fullPage")

	var imgBytes []byte
	var tab Tab

	if inv.argString("ref") != "" || inv.argString("selector") != "" {
		t, el, err := p.getElement(ctx, inv)
		if err != nil {
			return nil, err
		}
		tab = t
		imgBytes, err = el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
		if err != nil {
			return nil, &ProtocolError{Op: "screenshot", Err: err}
		}
	} else {
		t, page, err := p.pageFor(ctx, inv)
		if err != nil {
			return nil, err
		}
		tab = t
		if fullPage {
			imgBytes, err = page.Screenshot(true, &proto.PageCaptureScreenshot{
				Format:      proto.PageCaptureScreenshotFormatPng,
				FromSurface: true,
			})
		} else {
			imgBytes, err = page.Screenshot(false, nil)
		}
		if err != nil {
			return nil, &ProtocolError{Op: "screenshot", Err: err}
		}
	}

	_, relPath, err := p.media.Save(imgBytes, "browser", ".png")
	if err != nil {
		return nil, fmt.Errorf("failed to save screenshot: %w", err)
	}

	L_debug("browser: screenshot saved", "relPath", relPath, "size", len(imgBytes))
	return envelope(tab, Result{"path": relPath, "bytes": len(imgBytes), "fullPage": fullPage}), nil
}

// opPDF prints the page to PDF and saves it through the media store.
func (p *Plane) opPDF(ctx context.Context, inv *Invocation) (Result, error) {
	if p.media == nil {
		return nil, fmt.Errorf("media store not configured")
	}

	tab, page, err := p.pageFor(ctx, inv)
	if err != nil {
		return nil, err
	}

	reader, err := page.PDF(&proto.PagePrintToPDF{PrintBackground: true})
	if err != nil {
		return nil, &ProtocolError{Op: "pdf", Err: err}
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, &ProtocolError{Op: "pdf", Err: err}
	}

	_, relPath, err := p.media.Save(data, "browser", ".pdf")
	if err != nil {
		return nil, fmt.Errorf("failed to save pdf: %w", err)
	}

	L_debug("browser: pdf saved", "relPath", relPath, "size", len(data))
	return envelope(tab, Result{"path": relPath, "bytes": len(data)}), nil
}

// opTraceStart begins collecting a performance trace on the resolved
// tab. Only one trace per tab at a time.
func (p *Plane) opTraceStart(ctx context.Context, inv *Invocation) (Result, error) {
	tab, page, err := p.pageFor(ctx, inv)
	if err != nil {
		return nil, err
	}

	// Reserve the slot before talking to the browser so two concurrent
	// starts on the same tab cannot both pass the check.
	if err := p.reserveTrace(tab.ID, page); err != nil {
		return nil, err
	}

	err = proto.TracingStart{
		TransferMode: proto.TracingStartTransferModeReturnAsStream,
	}.Call(page)
	if err != nil {
		p.dropTrace(tab.ID)
		return nil, &ProtocolError{Op: "trace_start", Err: err}
	}

	L_info("browser: trace started", "tab", tab.ID)
	return envelope(tab, Result{"tracing": true}), nil
}

// reserveTrace claims the tracing slot for a tab. Fails while a trace is
// active on it.
func (p *Plane) reserveTrace(tabID string, page *rod.Page) error {
	p.traceMu.Lock()
	defer p.traceMu.Unlock()
	if _, active := p.tracing[tabID]; active {
		return &ValidationError{Field: "targetId", Reason: "trace already running on this tab"}
	}
	p.tracing[tabID] = page
	return nil
}

// opTraceStop ends the tab's trace, drains the result stream and saves
// the trace file through the media store.
func (p *Plane) opTraceStop(ctx context.Context, inv *Invocation) (Result, error) {
	if p.media == nil {
		return nil, fmt.Errorf("media store not configured")
	}

	tab, err := p.resolveTab(ctx, inv)
	if err != nil {
		return nil, err
	}

	p.traceMu.Lock()
	page, active := p.tracing[tab.ID]
	delete(p.tracing, tab.ID)
	p.traceMu.Unlock()
	if !active {
		return nil, &ValidationError{Field: "targetId", Reason: "no trace running on this tab"}
	}

	var complete proto.TracingTracingComplete
	wait := page.WaitEvent(&complete)
	if err := (proto.TracingEnd{}).Call(page); err != nil {
		return nil, &ProtocolError{Op: "trace_stop", Err: err}
	}
	wait()

	if complete.Stream == "" {
		return nil, &ProtocolError{Op: "trace_stop", Err: fmt.Errorf("trace completed without a result stream")}
	}
	data, err := drainStream(page, complete.Stream)
	if err != nil {
		return nil, err
	}

	_, relPath, err := p.media.Save(data, "traces", ".json")
	if err != nil {
		return nil, fmt.Errorf("failed to save trace: %w", err)
	}

	L_info("browser: trace saved", "tab", tab.ID, "relPath", relPath, "size", len(data))
	return envelope(tab, Result{"path": relPath, "bytes": len(data)}), nil
}

// maxDownloadBytes bounds the response body read by the download
// operation.
const maxDownloadBytes = 20 * 1024 * 1024

// opDownload fetches a URL directly and stores the body through the media
// store, inferring the file extension from the content. Pass keep=true to
// store it in the cleanup-exempt area.
func (p *Plane) opDownload(ctx context.Context, inv *Invocation) (Result, error) {
	url, err := inv.requireString("url")
	if err != nil {
		return nil, err
	}
	if err := ValidateURLSafety(url); err != nil {
		return nil, &ValidationError{Field: "url", Reason: err.Error()}
	}
	if p.media == nil {
		return nil, fmt.Errorf("media store not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &ValidationError{Field: "url", Reason: err.Error()}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	if len(data) > maxDownloadBytes {
		return nil, fmt.Errorf("download exceeds %d byte limit", maxDownloadBytes)
	}

	subdir := "downloads"
	if inv.argBool("keep") {
		subdir = "keep"
	}
	_, relPath, err := p.media.SaveDetect(data, subdir)
	if err != nil {
		return nil, fmt.Errorf("failed to save download: %w", err)
	}

	L_info("browser: download saved", "url", url, "relPath", relPath, "size", len(data))
	return Result{"ok": true, "url": url, "path": relPath, "bytes": len(data)}, nil
}

func (p *Plane) dropTrace(tabID string) {
	p.traceMu.Lock()
	delete(p.tracing, tabID)
	p.traceMu.Unlock()
}

// drainStream reads a protocol IO stream to EOF and closes it.
func drainStream(page *rod.Page, handle proto.IOStreamHandle) ([]byte, error) {
	var buf bytes.Buffer
	for {
		chunk, err := proto.IORead{Handle: handle}.Call(page)
		if err != nil {
			return nil, &ProtocolError{Op: "trace_stop", Err: err}
		}
		if chunk.Base64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(chunk.Data)
			if err != nil {
				return nil, &ProtocolError{Op: "trace_stop", Err: err}
			}
			buf.Write(decoded)
		} else {
			buf.WriteString(chunk.Data)
		}
		if chunk.EOF {
			break
		}
	}
	err := proto.IOClose{Handle: handle}.Call(page)
	if err != nil {
		L_debug("browser: closing trace stream failed", "error", err)
	}
	return buf.Bytes(), nil
}
