package store

import (
	"strings"

	"github.com/hitoshi/tripledger/internal/model"
)

const (
	// Namespace はすべてのアプリケーションデータを格納する最上位セグメント。
	Namespace = "artifacts"
	// DefaultAppID はアプリケーションIDが未指定の場合に使用する値。
	DefaultAppID = "default-app-id"

	pathSeparator  = "/"
	collectionName = "expenses"
)

// SanitizeAppID はアプリケーションIDを単一のパスセグメントに正規化する。
// パス区切り文字はすべて "-" に置換する。空の場合はDefaultAppIDを返す。
func SanitizeAppID(raw string) string {
	id := strings.TrimSpace(raw)
	if id == "" {
		return DefaultAppID
	}
	return strings.ReplaceAll(id, pathSeparator, "-")
}

// CollectionPath はユーザーの支出コレクションのパスを組み立てる。
// 形式: /{namespace}/{appID}/users/{userID}/expenses
// appIDはSanitizeAppIDで正規化する。userIDは変換せず、区切り文字を含む場合は拒否する。
func CollectionPath(appID, userID string) (string, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return "", model.NewInvalidPathError("user ID is empty")
	}
	if strings.Contains(uid, pathSeparator) {
		return "", model.NewInvalidPathError("user ID contains a path separator")
	}
	segments := []string{"", Namespace, SanitizeAppID(appID), "users", uid, collectionName}
	return strings.Join(segments, pathSeparator), nil
}

// ParseCollectionPath はCollectionPathの逆変換を行う。
func ParseCollectionPath(path string) (appID, userID string, err error) {
	parts := strings.Split(path, pathSeparator)
	if len(parts) != 6 || parts[0] != "" || parts[1] != Namespace || parts[3] != "users" || parts[5] != collectionName {
		return "", "", model.NewInvalidPathError(path)
	}
	if parts[2] == "" || parts[4] == "" {
		return "", "", model.NewInvalidPathError(path)
	}
	return parts[2], parts[4], nil
}
