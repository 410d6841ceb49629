/*
The MIT License (MIT)

Copyright (c) 2016 Jim Lawless

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/
package util

import (
	"errors"
	"io"
	"os"
	"regexp"
	"strings"
)

// keys only match at the start of a line, so values may contain "="
var re *regexp.Regexp = regexp.MustCompile("(?m)[#].*\\n|\\s+\\n|^[^\\s=]+[=]|.*\n")

// LoadConfig reads a key=value file into dest. Keys are lower-cased,
// lines starting with # are comments.
func LoadConfig(filename string, dest map[string]string) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	return ParseConfig(f, dest)
}

func ParseConfig(r io.Reader, dest map[string]string) error {
	buff, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	str := string(buff)
	if !strings.HasSuffix(str, "\n") {
		str += "\n"
	}
	s2 := re.FindAllString(str, -1)

	for i := 0; i < len(s2); {
		if strings.HasPrefix(s2[i], "#") {
			i++
		} else if strings.HasSuffix(s2[i], "=") {
			key := strings.ToLower(s2[i])[0 : len(s2[i])-1]
			i++
			if i < len(s2) && strings.HasSuffix(s2[i], "\n") {
				val := strings.TrimSpace(strings.TrimSuffix(s2[i][0:len(s2[i])-1], "\r"))
				i++
				dest[key] = val
			}
		} else if strings.Contains(" \t\r\n", s2[i][0:1]) {
			i++
		} else {
			return errors.New(`error in config near: "` + s2[i])
		}
	}
	return nil
}
