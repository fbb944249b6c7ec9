// Package ledger определяет интерфейс фиксации складских событий во внешнем реестре.
package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Recorder фиксирует событие во внешнем реестре и возвращает хеш транзакции.
// Реализация подставляется при сборке сервиса, поэтому демо-заглушку можно
// заменить на настоящий клиент без изменения бизнес-логики.
type Recorder interface {
	Record(ctx context.Context, payload string) (string, error)
}

// DemoRecorder возвращает случайный хеш вместо обращения к реальному реестру.
// Никакой криптографической проверки не выполняется.
type DemoRecorder struct{}

// NewDemoRecorder создаёт демо-реализацию реестра.
func NewDemoRecorder() *DemoRecorder {
	return &DemoRecorder{}
}

// Record возвращает случайную 64-символьную hex-строку.
func (d *DemoRecorder) Record(_ context.Context, _ string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate hash: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
