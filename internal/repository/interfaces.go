// Package repository はセッション情報の永続化インターフェースと実装を提供する。
package repository

import (
	"context"
	"fmt"

	"github.com/hitoshi/tenantdesk/internal/model"
)

// SessionStore は端末ローカルのキー/バリュー永続化インターフェース。
// プロセス再起動後も値が残ること。呼び出し側（auth.Controller）が操作を直列化する。
type SessionStore interface {
	// Write はkeyにvalueを保存する。冪等。
	// ストレージが利用できない場合はStorageErrorを返す。
	Write(ctx context.Context, key, value string) error

	// Read はkeyの値を返す。キーが存在しない場合はok=falseを返し、エラーにはしない。
	Read(ctx context.Context, key string) (value string, ok bool, err error)

	// Remove はkeyを削除する。存在しない場合も成功扱い。
	Remove(ctx context.Context, key string) error
}

// storageError はバックエンドのエラーをStorageErrorでラップする。
// errors.Asでmodel.APIErrorとして取り出せる。
func storageError(op string, err error) error {
	return fmt.Errorf("%w: %v", model.NewStorageError(op), err)
}
