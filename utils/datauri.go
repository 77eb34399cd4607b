package utils

import "encoding/base64"

// PNGDataURI 将PNG数据编码为 data URI
func PNGDataURI(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
