package storage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"fragstore/pkg/types"
)

var (
	ErrNoNodes     = errors.New("no storage nodes configured")
	ErrInvalidSize = errors.New("invalid file size")
	ErrInvalidName = errors.New("invalid file name")
)

// FragmentName returns the name under which fragment index of fileName is
// stored on its node.
func FragmentName(fileName string, index int) string {
	return fileName + ".part" + strconv.Itoa(index)
}

// PlanFragments splits totalSize bytes into nodeCount contiguous fragments.
// Every fragment but the last is floor(totalSize/nodeCount) bytes long and
// the last one takes the remainder, so lengths always sum to totalSize.
// Fragment i belongs to node i.
func PlanFragments(fileName string, totalSize int64, nodeCount int) ([]types.Fragment, error) {
	if nodeCount < 1 {
		return nil, ErrNoNodes
	}
	if totalSize < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, totalSize)
	}

	fragmentSize := totalSize / int64(nodeCount)
	fragments := make([]types.Fragment, nodeCount)

	var offset int64
	for i := 0; i < nodeCount; i++ {
		length := fragmentSize
		if i == nodeCount-1 {
			length = totalSize - int64(nodeCount-1)*fragmentSize
		}

		fragments[i] = types.Fragment{
			Index:  i,
			Offset: offset,
			Length: length,
			Name:   FragmentName(fileName, i),
		}
		offset += length
	}

	return fragments, nil
}

// ValidateName rejects names that would escape a flat directory namespace.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
