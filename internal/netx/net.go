// Package netx moves bytes to and from presigned object store URLs.
package netx

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
)

// ChecksumHeader carries the base64 SHA-256 a presigned PUT was signed with.
const ChecksumHeader = "x-amz-checksum-sha256"

var httpClient = &http.Client{}

// UploadToPresignedURL streams size bytes from body to url with a PUT.
// checksum is the hex SHA-256 of those bytes; when set it is sent in
// ChecksumHeader, which S3 requires for URLs presigned with a checksum.
func UploadToPresignedURL(ctx context.Context, url string, body io.Reader, size int64, checksum string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, io.NopCloser(body))
	if err != nil {
		return err
	}
	req.ContentLength = size
	if size == 0 {
		req.Body = http.NoBody
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if checksum != "" {
		raw, err := hex.DecodeString(checksum)
		if err != nil {
			return fmt.Errorf("checksum is not hex: %w", err)
		}
		req.Header.Set(ChecksumHeader, base64.StdEncoding.EncodeToString(raw))
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload failed: %s; body: %s", resp.Status, string(b))
	}
	return nil
}

// DownloadFromPresignedURL GETs the object behind url and copies it to w,
// returning the number of bytes written.
func DownloadFromPresignedURL(ctx context.Context, url string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return 0, fmt.Errorf("download failed: %s; body: %s", resp.Status, string(b))
	}
	return io.Copy(w, resp.Body)
}
