/*
Package filesystem wraps the file operations on scratch storage with retries
for transient errors.

The scratch directory may live on a network volume. There a delete or read
can fail with ESTALE (stale NFS handle) or EBUSY for a moment after the
engine process exits. Those errors are retried with exponential backoff;
anything else is returned at once.

	data, err := filesystem.ReadFileWithRetry(outPath, filesystem.DefaultRetryConfig())

	if err := filesystem.RemoveWithRetry(path, filesystem.DefaultRetryConfig()); err != nil && !os.IsNotExist(err) {
	    // the file is still there
	}

Retries that eventually succeed or give up are counted in
media_compressor_filesystem_retries_total.
*/
package filesystem
