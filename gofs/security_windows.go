package gofs

import (
	"github.com/aegistudio/go-dokan"
	"github.com/aegistudio/go-dokan/procsd"
)

// GetFileSecurity answers with the security descriptor of
// the current process.
//
// XXX: this is a mock up, the file is considered to be owned
// by current process, so it is okay to return the security
// descriptor of the process.
func (fs *fileSystem) GetFileSecurity(
	_ *dokan.FileSystem, name string,
	information uint32, buf []byte, info *dokan.FileInfo,
) (int, error) {
	if _, err := fs.load(info); err != nil {
		return 0, err
	}
	sd, err := procsd.Bytes()
	if err != nil {
		return 0, err
	}
	if len(sd) > len(buf) {
		return len(sd), nil
	}
	return copy(buf, sd), nil
}

var _ dokan.BehaviourGetSecurity = (*fileSystem)(nil)
