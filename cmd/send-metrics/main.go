package main

/*
Sends carbon plaintext lines to a carbon receiver, one line per datagram
or per TCP connection, since the receiver reads a single buffer from each.

Example input file:
web01.cpu-0.percent-idle 97.5 1492439949
web01.load.shortterm 0.42
*/
import (
	"bufio"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	flag "github.com/spf13/pflag"
)

func main() {
	host := flag.String("host", "127.0.0.1", "Host or multicast group of the carbon receiver")
	port := flag.Int("port", 2003, "Port of the carbon receiver")
	proto := flag.String("proto", "tcp", "tcp or udp")
	fileName := flag.StringP("file", "f", "", "File of plaintext lines, stdin when empty")
	timeout := flag.Duration("timeout", 5*time.Second, "Dial and write timeout")
	flag.Parse()

	if *proto != "tcp" && *proto != "udp" {
		log.Fatal("proto must be tcp or udp")
	}

	var in io.Reader = os.Stdin
	if *fileName != "" {
		file, err := os.Open(*fileName)
		if err != nil {
			log.Fatal(err)
		}
		defer file.Close()
		in = file
	}

	addr := net.JoinHostPort(*host, strconv.Itoa(*port))
	scanner := bufio.NewScanner(in)
	sent := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := send(*proto, addr, line+"\n", *timeout); err != nil {
			log.Fatal(err)
		}
		sent++
	}
	if err := scanner.Err(); err != nil {
		log.Fatal(err)
	}
	log.Infof("sent %d lines to %s over %s", sent, addr, *proto)
}

func send(proto, addr, line string, timeout time.Duration) error {
	conn, err := net.DialTimeout(proto, addr, timeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	_, err = conn.Write([]byte(line))
	return err
}
