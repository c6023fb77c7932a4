// Copyright 2023 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"
	"strings"

	"k8s.io/klog/v2"
)

// KlogBackendName is the name of our klog logging backend.
const KlogBackendName = "klog"

// klogBackend routes log messages to klog.
type klogBackend struct {
	align int
}

func (*klogBackend) Name() string {
	return KlogBackendName
}

func (k *klogBackend) SetSourceAlignment(align int) {
	k.align = align
}

func (k *klogBackend) Log(level Level, source, format string, args ...interface{}) {
	msg := fmt.Sprintf("[%s] %s", source, fmt.Sprintf(format, args...))
	switch level {
	case LevelDebug:
		klog.V(1).InfoDepth(3, msg)
	case LevelInfo:
		klog.InfoDepth(3, msg)
	case LevelWarn:
		klog.WarningDepth(3, msg)
	default:
		klog.ErrorDepth(3, msg)
	}
}

func (k *klogBackend) Block(level Level, source, prefix, format string, args ...interface{}) {
	for _, line := range strings.Split(fmt.Sprintf(format, args...), "\n") {
		k.Log(level, source, "%s%s", prefix, line)
	}
}

func init() {
	RegisterBackend(KlogBackendName, func() Backend { return &klogBackend{} })
}
