// Package fingerprint 从请求来源和客户端令牌推导不可逆的投票指纹
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Length 指纹的十六进制长度
const Length = sha256.Size * 2

// SHA256Hex 返回输入的SHA-256十六进制摘要
func SHA256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// Derive 由盐、网络来源和客户端令牌计算投票指纹。
// 同样的输入总是得到同样的指纹，无法从指纹反推原始身份。
func Derive(ip, token, salt string) string {
	return SHA256Hex(strings.Join([]string{salt, strings.TrimSpace(ip), strings.TrimSpace(token)}, "|"))
}

// ShortHash 日志中使用的短哈希，避免记录原始IP
func ShortHash(value string) string {
	return SHA256Hex(value)[:12]
}
