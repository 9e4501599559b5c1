/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"sigs.k8s.io/controller-runtime/pkg/log"

	logutil "github.com/markrussinovich/fbarc/internal/logging"
)

// shutdown guards the one-time termination sequence.
type shutdown struct {
	once sync.Once
	err  error
}

// Shutdown ends the session: it raises the terminate flag, then wakes as
// many blocked producers as have ever published, then destroys the channel.
// The flag is always raised before the wake-ups. Whatever triggered it, the
// sequence runs once; later calls return the first result.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.stop.once.Do(func() {
		s.stop.err = s.shutdown(ctx)
	})
	return s.stop.err
}

func (s *Supervisor) shutdown(ctx context.Context) error {
	logger := log.FromContext(ctx)

	var errs []error
	if err := s.ch.SetTerminate(); err != nil {
		// Without the flag a woken producer would just publish again.
		errs = append(errs, fmt.Errorf("set terminate: %w", err))
	} else {
		n := s.ch.GeneratorCount()
		logger.V(logutil.VERBOSE).Info("Waking generators for termination", "generators", n)
		if err := s.ch.NotifyShutdown(n); err != nil {
			errs = append(errs, fmt.Errorf("notify: %w", err))
		}
	}

	if err := s.ch.Destroy(); err != nil {
		errs = append(errs, fmt.Errorf("destroy: %w", err))
	}
	logger.V(logutil.DEFAULT).Info("Channel destroyed")
	return errors.Join(errs...)
}
