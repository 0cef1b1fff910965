/*
 * Copyright 2025 tomoncle.
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
 */

package shelter

import (
	"github.com/tomoncle/sqlrepo/repository"
)

type ShelterRepository struct {
	*repository.Repository[Shelter, *Shelter]
}

func NewShelterRepository(sessions repository.SessionProvider, opts ...repository.Option) (*ShelterRepository, error) {
	r, err := repository.New[Shelter](sessions, opts...)
	if err != nil {
		return nil, err
	}
	return &ShelterRepository{Repository: r}, nil
}

type PetRepository struct {
	*repository.Repository[Pet, *Pet]
}

func NewPetRepository(sessions repository.SessionProvider, opts ...repository.Option) (*PetRepository, error) {
	r, err := repository.New[Pet](sessions, opts...)
	if err != nil {
		return nil, err
	}
	return &PetRepository{Repository: r}, nil
}
