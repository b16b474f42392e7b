package fthttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/icholy/digest"

	"github.com/arzzra/rcs_stack/pkg/dialog"
)

const (
	// retryMax максимум повторов на одну загрузку; всего retryMax+1 попыток
	retryMax = 3
	// chunkSize размер порции при записи файла в тело запроса
	chunkSize = 10 * 1024
	// boundaryTag метка границы multipart тела второй фазы
	boundaryTag = "boundary1"
)

// ErrRetriesExhausted повторы загрузки исчерпаны
var ErrRetriesExhausted = errors.New("fthttp: повторы загрузки исчерпаны")

// ErrAuthFailure сервер потребовал аутентификацию, но challenge
// некорректен или учетные данные не подошли
var ErrAuthFailure = errors.New("fthttp: ошибка аутентификации загрузки")

// ProgressFunc уведомление о прогрессе передачи в байтах
type ProgressFunc func(transferred, total int64)

// UploadConfig параметры менеджера загрузки
type UploadConfig struct {
	// ServerURL адрес контент-сервера
	ServerURL string
	Username  string
	Password  string
	// Client HTTP клиент; по умолчанию http.DefaultClient
	Client *http.Client
	Logger dialog.StructuredLogger
}

// FileContent загружаемый контент
type FileContent struct {
	Name     string
	MimeType string
	Data     []byte
}

// UploadManager выполняет двухфазную загрузку файла на контент-сервер.
//
// Первая фаза: POST с идентификатором передачи (tid) определяет,
// требуется ли аутентификация. Вторая фаза: multipart POST с tid,
// опциональной миниатюрой и содержимым файла. Любой промежуточный сбой
// повторяется с общим ограничением retryMax; ответ 503 дополнительно
// выдерживает паузу Retry-After.
type UploadManager struct {
	cfg    UploadConfig
	client *http.Client
	logger dialog.StructuredLogger

	tid        string
	retryCount int

	// sleep подменяется в тестах
	sleep func(ctx context.Context, d time.Duration) error
}

// NewUploadManager создает менеджер загрузки
func NewUploadManager(cfg UploadConfig) *UploadManager {
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = dialog.NoopLogger{}
	}
	return &UploadManager{
		cfg:    cfg,
		client: client,
		logger: logger.WithComponent("fthttp"),
		tid:    dialog.GenerateTransferID(),
		sleep:  sleepCtx,
	}
}

// TID идентификатор передачи, сгенерированный для этой загрузки
func (u *UploadManager) TID() string { return u.tid }

// Upload загружает файл и возвращает тело ответа сервера (XML документ
// описания файла). thumbnail может быть nil.
func (u *UploadManager) Upload(ctx context.Context, file FileContent, thumbnail []byte, progress ProgressFunc) ([]byte, error) {
	for {
		result, retry, err := u.attempt(ctx, file, thumbnail, progress)
		if err == nil {
			return result, nil
		}
		if !retry {
			return nil, err
		}
		if u.retryCount >= retryMax {
			u.logger.Error("загрузка не удалась", dialog.F("tid", u.tid), dialog.F("retries", u.retryCount))
			return nil, ErrRetriesExhausted
		}
		u.retryCount++
		u.logger.Warn("повтор загрузки", dialog.F("tid", u.tid), dialog.F("attempt", u.retryCount+1))
	}
}

// attempt одна полная попытка: первая фаза, затем вторая.
// retry=true означает, что сбой подлежит повтору.
func (u *UploadManager) attempt(ctx context.Context, file FileContent, thumbnail []byte, progress ProgressFunc) (result []byte, retry bool, err error) {
	challenge, retry, err := u.identify(ctx)
	if err != nil {
		return nil, retry, err
	}
	return u.sendPayload(ctx, challenge, file, thumbnail, progress)
}

// identify первая фаза: пустой POST с tid. Возвращает challenge
// аутентификации из ответа 401, либо nil при ответе 204.
func (u *UploadManager) identify(ctx context.Context) (*digest.Challenge, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.ServerURL, strings.NewReader(u.tid))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Content-Disposition", `form-data; name="tid"`)

	res, err := u.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)

	u.logger.Debug("ответ первой фазы", dialog.F("status", res.StatusCode))
	switch res.StatusCode {
	case http.StatusUnauthorized:
		chal, err := digest.ParseChallenge(res.Header.Get("WWW-Authenticate"))
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrAuthFailure, err)
		}
		return chal, false, nil
	case http.StatusNoContent:
		return nil, false, nil
	case http.StatusServiceUnavailable:
		if err := u.waitRetryAfter(ctx, res); err != nil {
			return nil, false, err
		}
		return nil, true, fmt.Errorf("fthttp: первая фаза: сервер занят")
	default:
		return nil, true, fmt.Errorf("fthttp: первая фаза: код %d", res.StatusCode)
	}
}

// sendPayload вторая фаза: multipart POST с tid, миниатюрой и файлом
func (u *UploadManager) sendPayload(ctx context.Context, challenge *digest.Challenge, file FileContent, thumbnail []byte, progress ProgressFunc) ([]byte, bool, error) {
	body, err := u.buildMultipart(file, thumbnail, progress)
	if err != nil {
		return nil, false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.ServerURL, bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "multipart/form-data; boundary="+boundaryTag)
	req.Header.Set("Content-Length", strconv.Itoa(len(body)))

	if challenge != nil {
		cred, err := digest.Digest(challenge, digest.Options{
			Method:   http.MethodPost,
			URI:      req.URL.RequestURI(),
			Username: u.cfg.Username,
			Password: u.cfg.Password,
		})
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrAuthFailure, err)
		}
		req.Header.Set("Authorization", cred.String())
	}

	res, err := u.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer res.Body.Close()

	u.logger.Debug("ответ второй фазы", dialog.F("status", res.StatusCode))
	switch res.StatusCode {
	case http.StatusOK:
		result, err := io.ReadAll(res.Body)
		if err != nil {
			return nil, true, err
		}
		return result, false, nil
	case http.StatusServiceUnavailable:
		if err := u.waitRetryAfter(ctx, res); err != nil {
			return nil, false, err
		}
		return nil, true, fmt.Errorf("fthttp: вторая фаза: сервер занят")
	default:
		io.Copy(io.Discard, res.Body)
		return nil, true, fmt.Errorf("fthttp: вторая фаза: код %d", res.StatusCode)
	}
}

// buildMultipart собирает multipart тело с частями tid, Thumbnail и File.
// Содержимое файла записывается порциями с уведомлением о прогрессе.
func (u *UploadManager) buildMultipart(file FileContent, thumbnail []byte, progress ProgressFunc) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary(boundaryTag); err != nil {
		return nil, err
	}

	tidPart, err := w.CreatePart(partHeader(`form-data; name="tid"`, "text/plain", len(u.tid)))
	if err != nil {
		return nil, err
	}
	tidPart.Write([]byte(u.tid))

	if thumbnail != nil {
		disp := fmt.Sprintf(`form-data; name="Thumbnail"; filename="thumb_%s"`, file.Name)
		thumbPart, err := w.CreatePart(partHeader(disp, file.MimeType, len(thumbnail)))
		if err != nil {
			return nil, err
		}
		thumbPart.Write(thumbnail)
	}

	disp := fmt.Sprintf(`form-data; name="File"; filename=%q`, file.Name)
	filePart, err := w.CreatePart(partHeader(disp, file.MimeType, len(file.Data)))
	if err != nil {
		return nil, err
	}
	total := int64(len(file.Data))
	for off := 0; off < len(file.Data); off += chunkSize {
		end := off + chunkSize
		if end > len(file.Data) {
			end = len(file.Data)
		}
		if _, err := filePart.Write(file.Data[off:end]); err != nil {
			return nil, err
		}
		if progress != nil {
			progress(int64(end), total)
		}
	}

	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func partHeader(disposition, contentType string, length int) textproto.MIMEHeader {
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", disposition)
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.Itoa(length))
	return h
}

// waitRetryAfter выдерживает паузу из заголовка Retry-After ответа 503.
// Пауза ограничена сверху, чтобы сервер не мог подвесить загрузку.
func (u *UploadManager) waitRetryAfter(ctx context.Context, res *http.Response) error {
	const maxWait = 30 * time.Second
	seconds, err := strconv.Atoi(res.Header.Get("Retry-After"))
	if err != nil || seconds <= 0 {
		return nil
	}
	wait := time.Duration(seconds) * time.Second
	if wait > maxWait {
		wait = maxWait
	}
	u.logger.Debug("пауза перед повтором", dialog.F("seconds", seconds))
	return u.sleep(ctx, wait)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
