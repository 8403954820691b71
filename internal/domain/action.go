package domain

import "fmt"

// ActionKind — закрытое перечисление видов действий.
// Политика проверяется по множеству, а не по произвольной строке:
// опечатка в kind — это ошибка парсинга, а не тихий обход политики.
type ActionKind string

const (
	KindLog          ActionKind = "LOG"
	KindNetworkFetch ActionKind = "NETWORK_FETCH"
	KindFileRead     ActionKind = "FILE_READ"
	KindFileWrite    ActionKind = "FILE_WRITE"
	KindReadDB       ActionKind = "READ_DB"
	KindWriteDB      ActionKind = "WRITE_DB"
	KindSpawnProcess ActionKind = "SPAWN_PROCESS"
	KindTransfer     ActionKind = "TOKEN_TRANSFER"
)

// AllActionKinds — эталонный список для валидации и exhaustive-проверок в тестах.
// Новый kind добавляется здесь и в ParseActionKind, иначе он не существует.
var AllActionKinds = []ActionKind{
	KindLog,
	KindNetworkFetch,
	KindFileRead,
	KindFileWrite,
	KindReadDB,
	KindWriteDB,
	KindSpawnProcess,
	KindTransfer,
}

// ParseActionKind конвертирует недоверенную строку (из HTTP/конфига) в ActionKind.
func ParseActionKind(s string) (ActionKind, error) {
	k := ActionKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown action kind %q", s)
	}
	return k, nil
}

// Valid проверяет принадлежность закрытому множеству.
func (k ActionKind) Valid() bool {
	switch k {
	case KindLog, KindNetworkFetch, KindFileRead, KindFileWrite,
		KindReadDB, KindWriteDB, KindSpawnProcess, KindTransfer:
		return true
	}
	return false
}

func (k ActionKind) String() string { return string(k) }
