package gofs

import (
	"os"
)

// FileShrinker is implemented by files that can cut their
// size down atomically. Allocation size requests never grow
// a file, so without it the size is checked before truncating
// and a concurrent extension may be lost.
type FileShrinker interface {
	File

	// Shrink truncates the file to size if it is larger,
	// and leaves it alone otherwise.
	Shrink(size int64) error
}

// FileAppender is implemented by files that write at their
// end and within their size atomically. Files without it get
// both emulated with a stat in front of the write.
type FileAppender interface {
	File

	// Append writes at the end of the file, whatever mode
	// the file was opened in.
	Append(data []byte) (int, error)

	// WriteWithinAt writes at offset, dropping the part of
	// data past the end of the file.
	WriteWithinAt(data []byte, offset int64) (int, error)
}

type statShrinker struct {
	File
}

func (f statShrinker) Shrink(size int64) error {
	stat, err := f.Stat()
	if err != nil {
		return err
	}
	if stat.Size() <= size {
		return nil
	}
	return f.Truncate(size)
}

func (handle *fileHandle) shrinker() FileShrinker {
	if shrinker, ok := handle.file.(FileShrinker); ok {
		return shrinker
	}
	return statShrinker{File: handle.file}
}

type statAppender struct {
	File
	appendMode bool
}

func (handle *fileHandle) appender() FileAppender {
	if appender, ok := handle.file.(FileAppender); ok {
		return appender
	}
	return statAppender{
		File:       handle.file,
		appendMode: handle.flags&os.O_APPEND != 0,
	}
}

func (f statAppender) Append(data []byte) (int, error) {
	if f.appendMode {
		return f.Write(data)
	}
	// Two racing appends may land at the same offset.
	stat, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return f.WriteAt(data, stat.Size())
}

func (f statAppender) WriteWithinAt(data []byte, offset int64) (int, error) {
	stat, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := stat.Size()
	if offset >= size {
		return 0, nil
	}
	if remain := size - offset; int64(len(data)) > remain {
		data = data[:remain]
	}
	return f.WriteAt(data, offset)
}
