package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// Output — форматирование результата команды: таблицы для человека,
// JSON при --json. Данные идут в stdout, служебные сообщения в stderr,
// поэтому вывод можно передавать по конвейеру в jq и скрипты.
type Output struct {
	json bool
	data io.Writer
	msg  io.Writer
}

// NewOutput создаёт Output для stdout/stderr.
func NewOutput(jsonMode bool) *Output {
	return &Output{json: jsonMode, data: os.Stdout, msg: os.Stderr}
}

// Print выводит табличные данные, в JSON-режиме — jsonData.
func (o *Output) Print(headers []string, rows [][]string, jsonData any) {
	if o.json {
		o.JSON(jsonData)
		return
	}
	o.Table(headers, rows)
}

// Detail выводит пары ключ-значение (show-команды), в JSON-режиме — jsonData.
func (o *Output) Detail(pairs [][2]string, jsonData any) {
	if o.json {
		o.JSON(jsonData)
		return
	}

	tw := tabwriter.NewWriter(o.data, 0, 0, 2, ' ', 0)
	for _, p := range pairs {
		fmt.Fprintf(tw, "%s:\t%s\n", p[0], p[1])
	}
	tw.Flush()
}

// Table выводит выровненную таблицу с заголовком и разделителем.
func (o *Output) Table(headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Fprintln(o.msg, "(no results)")
		return
	}

	tw := tabwriter.NewWriter(o.data, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, strings.Join(headers, "\t"))

	sep := make([]string, len(headers))
	for i := range headers {
		sep[i] = strings.Repeat("-", len(headers[i]))
	}
	fmt.Fprintln(tw, strings.Join(sep, "\t"))

	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	tw.Flush()
}

// JSON кодирует значение с отступами.
func (o *Output) JSON(v any) {
	enc := json.NewEncoder(o.data)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(o.msg, "Error: encode output: "+err.Error())
	}
}

// Success печатает сообщение об успехе в stderr.
func (o *Output) Success(msg string) {
	fmt.Fprintln(o.msg, msg)
}

// Error печатает сообщение об ошибке в stderr.
func (o *Output) Error(msg string) {
	fmt.Fprintln(o.msg, "Error: "+msg)
}
