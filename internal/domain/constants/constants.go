// Пакет constants — доменные константы DoWC: назначения checkout'ов,
// подпапки пользовательских ресурсов, маппинг расширений на MS Office handlers.
package constants

// Purpose — назначение запроса документа.
type Purpose string

const (
	// PurposeRead — документ запрошен только для чтения.
	PurposeRead Purpose = "read"
	// PurposeWrite — документ запрошен для локального редактирования.
	// Требует блокировки в Documenten API.
	PurposeWrite Purpose = "write"
	// PurposeDownload — документ запрошен для скачивания (scratch-копия).
	PurposeDownload Purpose = "download"
)

// Valid проверяет, является ли значение допустимым назначением.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeRead, PurposeWrite, PurposeDownload:
		return true
	}
	return false
}

// Subfolder — подпапка пользовательской директории в blob-хранилище.
type Subfolder string

const (
	// SubfolderPublic — рабочая копия, доступная через WebDAV.
	SubfolderPublic Subfolder = "public"
	// SubfolderProtected — оригинальная копия, базис для diff при check-in.
	SubfolderProtected Subfolder = "protected"
)

// Сообщения терминальных ошибок, сохраняемые в error_message записи.
const (
	// ErrMsgDocumentNotUpdated — Documenten API отклонил обновление документа.
	ErrMsgDocumentNotUpdated = "Документ не удалось обновить в Documenten API"
	// ErrMsgDocumentNotUnlocked — Documenten API отклонил разблокировку документа.
	ErrMsgDocumentNotUnlocked = "Документ не удалось разблокировать в Documenten API"
)

// ExtensionHandler — маппинг расширения файла на MS Office URI scheme handler.
// Используется при построении magic URL: если расширение отсутствует в маппинге,
// файл открывается только через браузер (без Office handler).
var ExtensionHandler = map[string]string{
	".doc":   "ms-word",
	".docm":  "ms-word",
	".docx":  "ms-word",
	".dot":   "ms-word",
	".dotm":  "ms-word",
	".dotx":  "ms-word",
	".htm":   "ms-word",
	".html":  "ms-word",
	".mht":   "ms-word",
	".mhtml": "ms-word",
	".odt":   "ms-word",
	".rtf":   "ms-word",
	".txt":   "ms-word",
	".wps":   "ms-word",
	".xml":   "ms-word",
	".xps":   "ms-word",
	".csv":   "ms-excel",
	".dbf":   "ms-excel",
	".dif":   "ms-excel",
	".ods":   "ms-excel",
	".prn":   "ms-excel",
	".slk":   "ms-excel",
	".xla":   "ms-excel",
	".xlam":  "ms-excel",
	".xls":   "ms-excel",
	".xlsb":  "ms-excel",
	".xlsm":  "ms-excel",
	".xlsx":  "ms-excel",
	".xlt":   "ms-excel",
	".xltm":  "ms-excel",
	".xltx":  "ms-excel",
	".xlw":   "ms-excel",
	".emf":   "ms-powerpoint",
	".odp":   "ms-powerpoint",
	".pot":   "ms-powerpoint",
	".potm":  "ms-powerpoint",
	".potx":  "ms-powerpoint",
	".ppa":   "ms-powerpoint",
	".ppam":  "ms-powerpoint",
	".pps":   "ms-powerpoint",
	".ppsm":  "ms-powerpoint",
	".ppsx":  "ms-powerpoint",
	".ppt":   "ms-powerpoint",
	".pptm":  "ms-powerpoint",
	".pptx":  "ms-powerpoint",
	".thmx":  "ms-powerpoint",
}
