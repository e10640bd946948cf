// Пакет filestore — операции с blob-файлами на диске.
// Хранит рабочие и оригинальные копии документов по относительным путям
// внутри корневой директории данных (DOWC_DATA_DIR).
package filestore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileStore — управление blob-файлами на диске.
type FileStore struct {
	// dataDir — корневая директория хранения файлов (DOWC_DATA_DIR)
	dataDir string
}

// New создаёт новый FileStore. Проверяет и создаёт директорию
// если она не существует.
func New(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}

	return &FileStore{dataDir: dataDir}, nil
}

// Save записывает данные из reader по относительному пути relPath.
// Родительские директории создаются при необходимости.
//
// Паттерн: temp файл → запись → fsync → atomic rename.
// При ошибке temp файл удаляется.
func (fs *FileStore) Save(relPath string, reader io.Reader) (int64, error) {
	fullPath := filepath.Join(fs.dataDir, relPath)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return 0, fmt.Errorf("ошибка создания директории для %s: %w", relPath, err)
	}

	tmpPath := fullPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	size, err := io.Copy(f, reader)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	// Атомарный rename
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return size, nil
}

// Read возвращает всё содержимое файла по относительному пути.
// Для diff при check-in содержимое нужно целиком.
func (fs *FileStore) Read(relPath string) ([]byte, error) {
	fullPath := filepath.Join(fs.dataDir, relPath)

	data, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("файл не найден: %s", relPath)
		}
		return nil, fmt.Errorf("ошибка чтения файла %s: %w", relPath, err)
	}
	return data, nil
}

// Open открывает файл для streaming-чтения.
// Вызывающий код обязан закрыть ReadCloser.
func (fs *FileStore) Open(relPath string) (*os.File, error) {
	fullPath := filepath.Join(fs.dataDir, relPath)

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("файл не найден: %s", relPath)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", relPath, err)
	}
	return f, nil
}

// Exists проверяет существование файла на диске.
func (fs *FileStore) Exists(relPath string) bool {
	_, err := os.Stat(filepath.Join(fs.dataDir, relPath))
	return err == nil
}

// Size возвращает размер файла на диске.
func (fs *FileStore) Size(relPath string) (int64, error) {
	info, err := os.Stat(filepath.Join(fs.dataDir, relPath))
	if err != nil {
		return 0, fmt.Errorf("ошибка получения информации о файле %s: %w", relPath, err)
	}
	return info.Size(), nil
}

// Delete удаляет файл с диска.
// Возвращает nil если файл уже не существует.
func (fs *FileStore) Delete(relPath string) error {
	err := os.Remove(filepath.Join(fs.dataDir, relPath))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", relPath, err)
	}
	return nil
}

// FullPath возвращает абсолютный путь к файлу на диске.
func (fs *FileStore) FullPath(relPath string) string {
	return filepath.Join(fs.dataDir, relPath)
}

// DataDir возвращает путь к директории данных.
func (fs *FileStore) DataDir() string {
	return fs.dataDir
}
