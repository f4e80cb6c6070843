// Пакет audiostore — файловое хранилище загруженных записей аудио.
// Streaming-запись с подсчётом SHA-256 на лету, ограничение размера,
// разрешение относительных путей без выхода за корень хранилища.
package audiostore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTooLarge — размер загрузки превышает лимит.
	ErrTooLarge = errors.New("размер записи превышает лимит")
	// ErrInvalidPath — путь выходит за пределы хранилища или некорректен.
	ErrInvalidPath = errors.New("недопустимый путь записи")
	// ErrNotFound — файл записи отсутствует.
	ErrNotFound = errors.New("файл записи не найден")
)

// Store — хранилище записей аудио в локальной директории.
type Store struct {
	// root — корневая директория (PM_AUDIO_DIR)
	root string
	// maxSize — максимальный размер записи в байтах (0 — без ограничения)
	maxSize int64
	now     func() time.Time
}

// SaveResult — результат сохранения записи.
type SaveResult struct {
	// StoragePath — путь относительно корня хранилища
	StoragePath string
	// Size — размер в байтах
	Size int64
	// Checksum — SHA-256 содержимого
	Checksum string
}

// New создаёт Store, при необходимости создавая корневую директорию.
func New(root string, maxSize int64) (*Store, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию аудио %s: %w", root, err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("не удалось определить путь %s: %w", root, err)
	}
	return &Store{root: abs, maxSize: maxSize, now: time.Now}, nil
}

// Save записывает аудио из reader.
// Путь: {owner}/{yyyy}/{mm}/{name}_{timestamp}_{uuid}.{ext}
//
// temp файл → запись + SHA-256 → fsync → atomic rename.
// При ошибке temp файл удаляется.
func (s *Store) Save(reader io.Reader, originalFilename, ownerID string) (*SaveResult, error) {
	now := s.now().UTC()
	rel := filepath.Join(sanitize(ownerID), now.Format("2006"), now.Format("01"), generateName(originalFilename, now))
	fullPath := filepath.Join(s.root, rel)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return nil, fmt.Errorf("ошибка создания директории: %w", err)
	}

	tmpPath := fullPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	src := reader
	if s.maxSize > 0 {
		// +1 байт, чтобы отличить файл ровно maxSize от превышения
		src = io.LimitReader(reader, s.maxSize+1)
	}

	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(src, hasher))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}
	if s.maxSize > 0 && size > s.maxSize {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: > %d байт", ErrTooLarge, s.maxSize)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{
		StoragePath: filepath.ToSlash(rel),
		Size:        size,
		Checksum:    hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Resolve возвращает абсолютный путь для относительного пути записи.
// Пути вне корня хранилища отклоняются.
func (s *Store) Resolve(storagePath string) (string, error) {
	if storagePath == "" || filepath.IsAbs(storagePath) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, storagePath)
	}
	full := filepath.Join(s.root, filepath.FromSlash(storagePath))
	if full != s.root && !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, storagePath)
	}
	return full, nil
}

// Stat возвращает размер существующей записи.
func (s *Store) Stat(storagePath string) (int64, error) {
	full, err := s.Resolve(storagePath)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, storagePath)
		}
		return 0, fmt.Errorf("ошибка получения информации о файле %s: %w", storagePath, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%w: %s — директория", ErrInvalidPath, storagePath)
	}
	return info.Size(), nil
}

// Open открывает запись для чтения. Вызывающий код обязан закрыть файл.
func (s *Store) Open(storagePath string) (*os.File, error) {
	full, err := s.Resolve(storagePath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, storagePath)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", storagePath, err)
	}
	return f, nil
}

// Delete удаляет запись. Отсутствующий файл ошибкой не считается.
func (s *Store) Delete(storagePath string) error {
	full, err := s.Resolve(storagePath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", storagePath, err)
	}
	return nil
}

// Root возвращает корневую директорию хранилища.
func (s *Store) Root() string {
	return s.root
}

// generateName формирует имя файла: {name}_{timestamp}_{uuid8}.{ext}
func generateName(originalFilename string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(originalFilename))
	if len(ext) > 10 {
		ext = ""
	}
	name := sanitize(strings.TrimSuffix(filepath.Base(originalFilename), filepath.Ext(originalFilename)))
	if len(name) > 50 {
		name = name[:50]
	}
	return fmt.Sprintf("%s_%s_%s%s", name, now.Format("20060102150405"), uuid.New().String()[:8], sanitizeExt(ext))
}

// sanitize оставляет только буквы, цифры, дефис и подчёркивание.
func sanitize(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' ||
			(r >= 0x0400 && r <= 0x04FF) {
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "recording"
	}
	return result.String()
}

func sanitizeExt(ext string) string {
	if ext == "" {
		return ""
	}
	clean := sanitize(strings.TrimPrefix(ext, "."))
	if clean == "recording" {
		return ""
	}
	return "." + clean
}
