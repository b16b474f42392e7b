package fthttp

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/arzzra/rcs_stack/pkg/dialog"
)

// DownloadManager скачивает файл по ссылке из документа описания.
// Сбой в середине передачи возобновляется запросом Range с уже
// полученного смещения, с общим ограничением повторов.
type DownloadManager struct {
	client *http.Client
	logger dialog.StructuredLogger
}

// NewDownloadManager создает менеджер скачивания
func NewDownloadManager(client *http.Client, logger dialog.StructuredLogger) *DownloadManager {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = dialog.NoopLogger{}
	}
	return &DownloadManager{client: client, logger: logger.WithComponent("fthttp")}
}

// Download скачивает контент по URL в w с уведомлением о прогрессе
func (d *DownloadManager) Download(ctx context.Context, url string, w io.Writer, progress ProgressFunc) error {
	var written int64
	var total int64
	var lastErr error

	for attempt := 0; attempt <= retryMax; attempt++ {
		n, size, err := d.fetch(ctx, url, written, w, total, progress)
		written += n
		if size > 0 {
			total = size
		}
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		d.logger.Warn("повтор скачивания",
			dialog.F("url", url), dialog.F("offset", written), dialog.F("attempt", attempt+1))
	}
	return fmt.Errorf("fthttp: скачивание не удалось: %w", lastErr)
}

// fetch одна попытка: полный GET либо продолжение по Range с offset
func (d *DownloadManager) fetch(ctx context.Context, url string, offset int64, w io.Writer, total int64, progress ProgressFunc) (int64, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, 0, err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	res, err := d.client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		// Сервер не поддержал Range и вернул контент с начала
		if offset > 0 {
			return 0, 0, fmt.Errorf("fthttp: сервер не поддерживает возобновление")
		}
	case http.StatusPartialContent:
		if offset == 0 {
			return 0, 0, fmt.Errorf("fthttp: неожиданный частичный ответ")
		}
	default:
		return 0, 0, fmt.Errorf("fthttp: скачивание: код %d", res.StatusCode)
	}

	if total == 0 && res.ContentLength > 0 {
		total = offset + res.ContentLength
	}

	var written int64
	buf := make([]byte, chunkSize)
	for {
		n, err := res.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return written, total, werr
			}
			written += int64(n)
			if progress != nil {
				progress(offset+written, total)
			}
		}
		if err == io.EOF {
			return written, total, nil
		}
		if err != nil {
			return written, total, err
		}
	}
}
